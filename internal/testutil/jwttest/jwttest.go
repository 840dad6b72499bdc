// Package jwttest signs tokens and serves key sets for auth tests.
package jwttest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Key is a signing key with its key id.
type Key struct {
	Kid    string
	Alg    string
	signer crypto.Signer
}

// NewRSAKey generates a 2048-bit RS256 key.
func NewRSAKey(t testing.TB, kid string) *Key {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &Key{Kid: kid, Alg: "RS256", signer: k}
}

// NewECKey generates a P-256 ES256 key.
func NewECKey(t testing.TB, kid string) *Key {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &Key{Kid: kid, Alg: "ES256", signer: k}
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// JWK returns the public key as a JWK object.
func (k *Key) JWK() map[string]any {
	switch pub := k.signer.Public().(type) {
	case *rsa.PublicKey:
		return map[string]any{
			"kid": k.Kid, "kty": "RSA", "alg": k.Alg, "use": "sig",
			"n": b64(pub.N.Bytes()),
			"e": b64(big.NewInt(int64(pub.E)).Bytes()),
		}
	case *ecdsa.PublicKey:
		size := (pub.Curve.Params().BitSize + 7) / 8
		return map[string]any{
			"kid": k.Kid, "kty": "EC", "alg": k.Alg, "use": "sig", "crv": "P-256",
			"x": b64(pub.X.FillBytes(make([]byte, size))),
			"y": b64(pub.Y.FillBytes(make([]byte, size))),
		}
	}
	return nil
}

// Sign signs claims with the key's algorithm and kid. mutate may edit the
// header before signing.
func (k *Key) Sign(t testing.TB, claims jwt.Claims, mutate ...func(*jwt.Token)) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.GetSigningMethod(k.Alg), claims)
	tok.Header["kid"] = k.Kid
	for _, m := range mutate {
		m(tok)
	}
	s, err := tok.SignedString(k.signer)
	require.NoError(t, err)
	return s
}

// AccessClaims returns access token claims for sub expiring after ttl.
func AccessClaims(sub, email string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"type":  "access",
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
}

// Document renders keys as a JWKS document.
func Document(keys ...*Key) []byte {
	doc := struct {
		Keys []map[string]any `json:"keys"`
	}{Keys: make([]map[string]any, 0, len(keys))}
	for _, k := range keys {
		doc.Keys = append(doc.Keys, k.JWK())
	}
	b, _ := json.Marshal(doc)
	return b
}

// Server serves a JWKS document at /jwks.json and an OIDC discovery
// document pointing at it. It counts JWKS hits.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	keys    []*Key
	failing bool
	delay   time.Duration
	hits    atomic.Int64
}

// NewServer starts a server publishing keys. It is closed on cleanup.
func NewServer(t testing.TB, keys ...*Key) *Server {
	t.Helper()
	s := &Server{keys: keys}
	mux := http.NewServeMux()
	mux.HandleFunc("/jwks.json", s.serveJWKS)
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   s.URL,
			"jwks_uri": s.JWKSURL(),
		})
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	s.hits.Add(1)
	s.mu.Lock()
	keys, failing, delay := s.keys, s.failing, s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(Document(keys...))
}

// JWKSURL is the key set endpoint.
func (s *Server) JWKSURL() string { return s.URL + "/jwks.json" }

// SetKeys replaces the published keys.
func (s *Server) SetKeys(keys ...*Key) {
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
}

// SetFailing makes the JWKS endpoint answer 503.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// SetDelay delays every JWKS response.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Hits is the number of JWKS requests served.
func (s *Server) Hits() int64 { return s.hits.Load() }

// SignRaw signs tok with the key as is, leaving its header and method
// untouched.
func (k *Key) SignRaw(tok *jwt.Token) (string, error) {
	return tok.SignedString(k.signer)
}
