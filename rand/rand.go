package rand

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

// RememberTokenBytes is the number of random bytes in a remember token.
const RememberTokenBytes = 32

const passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Bytes returns n random bytes.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// String returns a URL-safe base64 encoding of nBytes random bytes.
func String(nBytes int) (string, error) {
	b, err := Bytes(nBytes)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// RememberToken returns a new random remember token.
func RememberToken() (string, error) {
	return String(RememberTokenBytes)
}

// Password returns a random alphanumeric string of length n.
func Password(n int) (string, error) {
	max := big.NewInt(int64(len(passwordChars)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = passwordChars[idx.Int64()]
	}
	return string(b), nil
}
