package auth

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrInvalidCharacter = errors.New("invalid character in password")
	ErrWeakPassword     = errors.New("password requires at least 8 characters, including at least 1 number and 1 symbol")
)

// passwordSymbols is the fixed punctuation set accepted in passwords.
const passwordSymbols = "'~!@#$%^&*()-_=+[{}]/|<,.>?"

// ValidatePassword enforces the password acceptability policy: every
// character must be a letter, whitespace, digit or a member of the
// fixed punctuation set, with at least 8 characters total, at least one
// digit and at least one punctuation character.
func ValidatePassword(password string) error {
	var length, digits, symbols int

	for _, r := range password {
		switch {
		case unicode.IsLetter(r) || unicode.IsSpace(r):
			length++
		case unicode.IsDigit(r):
			length++
			digits++
		case strings.ContainsRune(passwordSymbols, r):
			length++
			symbols++
		default:
			return ErrInvalidCharacter
		}
	}

	if length < 8 || digits < 1 || symbols < 1 {
		return ErrWeakPassword
	}
	return nil
}
