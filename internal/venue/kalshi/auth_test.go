package kalshi

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"
)

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestAuthHeaders(t *testing.T) {
	pemKey := generateTestKey(t)

	headers, err := AuthHeaders("test-api-key", pemKey)
	if err != nil {
		t.Fatalf("AuthHeaders: %v", err)
	}

	if headers.Get("KALSHI-ACCESS-KEY") != "test-api-key" {
		t.Fatalf("expected API key 'test-api-key', got %q", headers.Get("KALSHI-ACCESS-KEY"))
	}
	if headers.Get("KALSHI-ACCESS-TIMESTAMP") == "" {
		t.Fatal("missing KALSHI-ACCESS-TIMESTAMP")
	}
	if headers.Get("KALSHI-ACCESS-SIGNATURE") == "" {
		t.Fatal("missing KALSHI-ACCESS-SIGNATURE")
	}
}

func TestSigner_HeadersSignsArbitraryMethodAndPath(t *testing.T) {
	pemKey := generateTestKey(t)
	signer, err := NewSigner("test-api-key", pemKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	headers, err := signer.Headers(http.MethodGet, "/trade-api/v2/markets")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if headers.Get("KALSHI-ACCESS-SIGNATURE") == "" {
		t.Fatal("missing signature")
	}
}
