// Package kalshi implements the venue.Discoverer/venue.Feed pair for
// Kalshi's authenticated REST API and orderbook WebSocket feed.
package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const wsPath = "/trade-api/ws/v2"

// Signer holds a Kalshi API key and its RSA private key, producing the
// RSA-PSS signed headers every REST and WebSocket request requires.
type Signer struct {
	apiKeyID   string
	privateKey *rsa.PrivateKey
}

// NewSigner parses a PEM-encoded PKCS8 RSA private key.
func NewSigner(apiKeyID string, privateKeyPEM []byte) (*Signer, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("kalshi: failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi: key is not RSA")
	}

	return &Signer{apiKeyID: apiKeyID, privateKey: rsaKey}, nil
}

// Headers computes the RSA-PSS authentication headers for an arbitrary REST
// request (method + path) or the WebSocket upgrade (method="GET",
// path=wsPath).
func (s *Signer) Headers(method, path string) (http.Header, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := ts + method + path

	h := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, s.privateKey, crypto.SHA256, h[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: sign: %w", err)
	}

	headers := http.Header{}
	headers.Set("KALSHI-ACCESS-KEY", s.apiKeyID)
	headers.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	headers.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))
	return headers, nil
}

// AuthHeaders is the single-call convenience form carried over from the
// teacher's adapter: sign one request without constructing a Signer first.
func AuthHeaders(apiKey string, privateKeyPEM []byte) (http.Header, error) {
	s, err := NewSigner(apiKey, privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return s.Headers(http.MethodGet, wsPath)
}
