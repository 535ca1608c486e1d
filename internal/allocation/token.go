// Package allocation assigns students to rooms and issues room entry tokens.
package allocation

import (
	"crypto/rand"
	"math/big"

	"github.com/pavelanni/examhall/internal/model"
)

const (
	// DefaultTokenLength is the entry token length used when none is configured.
	DefaultTokenLength = 6
	// DefaultTokenAttempts bounds regeneration on collision.
	DefaultTokenAttempts = 16

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// TokenSource produces candidate entry tokens.
type TokenSource func() (string, error)

// RandomTokens returns a source of crypto-random alphanumeric tokens.
func RandomTokens(length int) TokenSource {
	if length <= 0 {
		length = DefaultTokenLength
	}
	return func() (string, error) {
		return NewToken(length)
	}
}

// NewToken returns a random uppercase alphanumeric string of the given length.
func NewToken(length int) (string, error) {
	base := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}

// uniqueToken draws from src until the token is not in taken.
func uniqueToken(src TokenSource, taken map[string]bool, attempts int) (string, error) {
	if attempts <= 0 {
		attempts = DefaultTokenAttempts
	}
	for i := 0; i < attempts; i++ {
		tok, err := src()
		if err != nil {
			return "", err
		}
		if !taken[tok] {
			return tok, nil
		}
	}
	return "", model.ErrTokenExhausted
}

// EnsureTokens returns a copy of the session in which every room carries a
// token unique within the session. Rooms that already hold a unique token keep it.
func EnsureTokens(s model.Session, src TokenSource, attempts int) (model.Session, error) {
	out := s.Clone()
	taken := make(map[string]bool, len(out.Rooms))
	for i := range out.Rooms {
		tok := out.Rooms[i].Token
		if tok == "" || taken[tok] {
			out.Rooms[i].Token = ""
			continue
		}
		taken[tok] = true
	}
	for i := range out.Rooms {
		if out.Rooms[i].Token != "" {
			continue
		}
		tok, err := uniqueToken(src, taken, attempts)
		if err != nil {
			return s, err
		}
		out.Rooms[i].Token = tok
		taken[tok] = true
	}
	return out, nil
}

// RegenerateToken returns a copy of the session with a fresh token for one room.
func RegenerateToken(s model.Session, roomID string, src TokenSource, attempts int) (model.Session, error) {
	i := s.Room(roomID)
	if i < 0 {
		return s, model.ErrNotFound
	}
	taken := make(map[string]bool, len(s.Rooms))
	for _, r := range s.Rooms {
		if r.Token != "" {
			taken[r.Token] = true
		}
	}
	tok, err := uniqueToken(src, taken, attempts)
	if err != nil {
		return s, err
	}
	out := s.Clone()
	out.Rooms[i].Token = tok
	return out, nil
}
