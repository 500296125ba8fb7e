// Package auth gates the HTTP API behind bearer API keys. Keys are
// configured as plaintext secrets but held only as bcrypt hashes once
// loaded, so a heap dump or log never exposes them.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Keyring validates API keys against stored hashes.
type Keyring struct {
	mu     sync.RWMutex
	hashes [][]byte
}

// NewKeyring hashes the given keys. An empty key list yields a keyring
// that rejects everything; callers should skip the middleware entirely
// when auth is not configured.
func NewKeyring(keys []string) (*Keyring, error) {
	kr := &Keyring{}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := kr.Add(key); err != nil {
			return nil, err
		}
	}
	return kr, nil
}

// Add hashes and stores one key.
func (kr *Keyring) Add(key string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash api key: %w", err)
	}
	kr.mu.Lock()
	kr.hashes = append(kr.hashes, hash)
	kr.mu.Unlock()
	return nil
}

// Verify reports whether the presented key matches any stored hash.
func (kr *Keyring) Verify(key string) bool {
	if key == "" {
		return false
	}
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	for _, hash := range kr.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// Len returns the number of stored keys.
func (kr *Keyring) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.hashes)
}

// GenerateKey returns a new random key suitable for distribution to a
// client. The caller is responsible for adding it to a keyring.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Middleware rejects requests that do not carry a valid key in the
// Authorization header ("Bearer <key>") or the X-API-Key header.
func (kr *Keyring) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !kr.Verify(bearerKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"code":    "UNAUTHORIZED",
					"message": "missing or invalid API key",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerKey(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if key, ok := strings.CutPrefix(header, "Bearer "); ok {
		return key
	}
	return r.Header.Get("X-API-Key")
}
