// Package idgen generates short, URL-safe ids for loans and connections.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes identify the kind of entity an id belongs to.
const (
	LoanPrefix       = "ln-"
	ConnectionPrefix = "cn-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// Loan returns a new loan id.
func Loan() (string, error) {
	return WithPrefix(LoanPrefix)
}

// Connection returns a new connection id.
func Connection() (string, error) {
	return WithPrefix(ConnectionPrefix)
}

// WithPrefix returns a new unique id with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
