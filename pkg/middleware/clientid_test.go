package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithClientID(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{"header wins", "studio-7", "10.0.0.9:4412", "studio-7"},
		{"falls back to remote host", "", "10.0.0.9:4412", "10.0.0.9"},
		{"unparseable remote kept whole", "", "bad-addr", "bad-addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := WithClientID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientID(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				req.Header.Set("X-Client-ID", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("ClientID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIDWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ClientID(req); got != "" {
		t.Errorf("ClientID() = %q, want empty without middleware", got)
	}
}
