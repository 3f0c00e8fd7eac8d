package proof

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// ParsePublicKey builds an RSA public key from the base64-encoded big-endian
// modulus and exponent found in a discovery document.
func ParsePublicKey(modulus, exponent string) (*rsa.PublicKey, error) {
	modulus = strings.TrimSpace(modulus)
	exponent = strings.TrimSpace(exponent)
	if modulus == "" || exponent == "" {
		return nil, fmt.Errorf("modulus and exponent are required")
	}

	n, err := base64.StdEncoding.DecodeString(modulus)
	if err != nil {
		return nil, fmt.Errorf("error decoding modulus: %w", err)
	}
	e, err := base64.StdEncoding.DecodeString(exponent)
	if err != nil {
		return nil, fmt.Errorf("error decoding exponent: %w", err)
	}

	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("invalid exponent")
	}

	key := &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(exp.Int64()),
	}
	if key.N.Sign() <= 0 {
		return nil, fmt.Errorf("invalid modulus")
	}
	return key, nil
}

// EncodePublicKey is the inverse of ParsePublicKey.
func EncodePublicKey(key *rsa.PublicKey) (modulus, exponent string) {
	modulus = base64.StdEncoding.EncodeToString(key.N.Bytes())
	exponent = base64.StdEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes())
	return modulus, exponent
}
