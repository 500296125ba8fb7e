package tls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCertGeneratesPair(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := EnsureCert(certFile, keyFile, "waveqd", "10.1.2.3", "engine.local"); err != nil {
		t.Fatalf("EnsureCert() error = %v", err)
	}

	data, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatal("cert file is not a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if cert.Subject.CommonName != "waveqd" {
		t.Errorf("CommonName = %q, want waveqd", cert.Subject.CommonName)
	}

	wantDNS := map[string]bool{"waveqd": false, "localhost": false, "engine.local": false}
	for _, name := range cert.DNSNames {
		wantDNS[name] = true
	}
	for name, found := range wantDNS {
		if !found {
			t.Errorf("certificate missing DNS name %q", name)
		}
	}

	foundIP := false
	for _, ip := range cert.IPAddresses {
		if ip.String() == "10.1.2.3" {
			foundIP = true
		}
	}
	if !foundIP {
		t.Error("certificate missing IP SAN 10.1.2.3")
	}

	if _, err := ServerConfig(certFile, keyFile); err != nil {
		t.Errorf("ServerConfig() error = %v", err)
	}
}

func TestEnsureCertKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := EnsureCert(certFile, keyFile, "waveqd"); err != nil {
		t.Fatalf("first EnsureCert() error = %v", err)
	}
	before, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}

	if err := EnsureCert(certFile, keyFile, "waveqd"); err != nil {
		t.Fatalf("second EnsureCert() error = %v", err)
	}
	after, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	if string(before) != string(after) {
		t.Error("existing certificate was regenerated")
	}
}

func TestEnsureCertRejectsHalfPair(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := os.WriteFile(certFile, []byte("stale"), 0o644); err != nil {
		t.Fatalf("write stale cert: %v", err)
	}
	if err := EnsureCert(certFile, keyFile, "waveqd"); err == nil {
		t.Fatal("EnsureCert() accepted a cert without its key")
	}
}
