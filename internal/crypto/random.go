package crypto

import (
	"crypto/rand"
	"errors"
	"io"
)

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+[]{}|;:,.<>?")

// GenerateString returns a random string of length n, used to back the admin
// session secret when the config leaves it empty.
func GenerateString(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("length must be positive")
	}
	b := make([]rune, n)
	buf := make([]byte, len(b))
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(buf[i])%len(letters)]
	}
	return string(b), nil
}
