package access

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPasscode hashes a plaintext passcode using bcrypt.
func HashPasscode(passcode string) (string, error) {
	if len(passcode) == 0 {
		return "", errors.New("passcode is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPasscode compares a plaintext passcode with the stored hash.
func VerifyPasscode(hash, passcode string) error {
	if hash == "" {
		return errors.New("passcode hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode))
}
