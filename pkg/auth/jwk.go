package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// JWK is one public key from a key set. Only RSA and EC signing keys are
// usable.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`

	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`

	pub any
}

// JWKS is a key set as served by the provider.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// ParseJWKS decodes a key set and keeps the usable signing keys. Keys
// without a kid, with an unsupported type, with malformed material or
// declaring an algorithm their type cannot produce are dropped.
func ParseJWKS(data []byte) (JWKS, error) {
	var raw JWKS
	if err := json.Unmarshal(data, &raw); err != nil {
		return JWKS{}, fmt.Errorf("auth: decode jwks: %w", err)
	}
	out := JWKS{Keys: make([]JWK, 0, len(raw.Keys))}
	for _, k := range raw.Keys {
		if k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.parse()
		if err != nil {
			continue
		}
		if !keyFitsAlg(k, k.Algorithm()) {
			continue
		}
		k.pub = pub
		out.Keys = append(out.Keys, k)
	}
	return out, nil
}

// Lookup returns the key with kid.
func (s JWKS) Lookup(kid string) (JWK, bool) {
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return JWK{}, false
}

// Kids lists the key ids in order.
func (s JWKS) Kids() []string {
	kids := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		kids[i] = k.Kid
	}
	return kids
}

// Algorithm is the key's declared alg, or the one implied by its type and
// curve when alg is absent.
func (k JWK) Algorithm() string {
	if k.Alg != "" {
		return k.Alg
	}
	switch k.Kty {
	case "RSA":
		return "RS256"
	case "EC":
		switch k.Crv {
		case "P-256":
			return "ES256"
		case "P-384":
			return "ES384"
		case "P-521":
			return "ES512"
		}
	}
	return ""
}

// PublicKey returns the parsed *rsa.PublicKey or *ecdsa.PublicKey.
func (k JWK) PublicKey() (any, error) {
	if k.pub != nil {
		return k.pub, nil
	}
	return k.parse()
}

func (k JWK) parse() (any, error) {
	switch k.Kty {
	case "RSA":
		return parseRSAPublicKey(k.N, k.E)
	case "EC":
		return parseECPublicKey(k.Crv, k.X, k.Y)
	default:
		return nil, fmt.Errorf("auth: unsupported key type %q", k.Kty)
	}
}

func keyFitsAlg(k JWK, alg string) bool {
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		return k.Kty == "RSA"
	case "ES256":
		return k.Kty == "EC" && k.Crv == "P-256"
	case "ES384":
		return k.Kty == "EC" && k.Crv == "P-384"
	case "ES512":
		return k.Kty == "EC" && k.Crv == "P-521"
	}
	return false
}

func asymmetric(alg string) bool {
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512":
		return true
	}
	return false
}

func decodeSegment(name, s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("auth: missing %s", name)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("auth: decode %s: %w", name, err)
	}
	return b, nil
}

func parseRSAPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := decodeSegment("RSA modulus", nB64)
	if err != nil {
		return nil, err
	}
	eBytes, err := decodeSegment("RSA exponent", eB64)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("auth: RSA exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}

func parseECPublicKey(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}
	xBytes, err := decodeSegment("EC x coordinate", xB64)
	if err != nil {
		return nil, err
	}
	yBytes, err := decodeSegment("EC y coordinate", yB64)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
