package persistent

import (
	"errors"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	tokenLength   = 6
	minLabelRunes = 3
)

// ErrLabelTooShort is returned by NewRoomID for names under three characters.
var ErrLabelTooShort = errors.New("room name must be at least 3 characters")

var newToken = mustTokenGenerator()

func mustTokenGenerator() func() string {
	gen, err := nanoid.CustomASCII(tokenAlphabet, tokenLength)
	if err != nil {
		panic(err)
	}
	return gen
}

// NewRoomID returns "<token>-<label>" where token is a random base36 string
// and label is the trimmed room name with whitespace runs replaced by dashes.
func NewRoomID(label string) (string, error) {
	clean := strings.Join(strings.Fields(label), "-")
	if len([]rune(clean)) < minLabelRunes {
		return "", ErrLabelTooShort
	}
	return newToken() + "-" + clean, nil
}
