package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	gw "authgate/internal/gateway"
)

const minModulusBits = 1024

// ParseRSAComponents builds an RSA public key from base64url-encoded modulus
// and exponent, as published in a JWK.
func ParseRSAComponents(modulus, exponent string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(modulus) == "" {
		return nil, errors.New("modulus is empty")
	}
	if strings.TrimSpace(exponent) == "" {
		return nil, errors.New("exponent is empty")
	}
	nBytes, err := decodeComponent(modulus)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := decodeComponent(exponent)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	if n.BitLen() < minModulusBits {
		return nil, fmt.Errorf("modulus is %d bits, need at least %d", n.BitLen(), minModulusBits)
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > math.MaxInt32 || e.Bit(0) == 0 {
		return nil, fmt.Errorf("exponent %s is not a valid RSA public exponent", e)
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func decodeComponent(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(s), "="))
}

// StaticKey is a KeySource holding a single key parsed once at startup.
type StaticKey struct {
	key *rsa.PublicKey
	err error
}

var _ gw.KeySource = (*StaticKey)(nil)

// NewStaticKey parses the configured modulus and exponent. On error it still
// returns a usable StaticKey whose Key method reports the configuration
// error, so callers may choose between refusing to start and failing each
// verification.
func NewStaticKey(modulus, exponent string) (*StaticKey, error) {
	key, err := ParseRSAComponents(modulus, exponent)
	if err != nil {
		err = fmt.Errorf("%w: %w", gw.ErrKeyUnavailable, err)
		return &StaticKey{err: err}, err
	}
	return &StaticKey{key: key}, nil
}

// StaticKeyFrom wraps an already constructed public key.
func StaticKeyFrom(key *rsa.PublicKey) *StaticKey {
	return &StaticKey{key: key}
}

// Key returns the configured key regardless of kid.
func (s *StaticKey) Key(_ context.Context, _ string) (*rsa.PublicKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.key == nil {
		return nil, fmt.Errorf("%w: no key configured", gw.ErrKeyUnavailable)
	}
	return s.key, nil
}
