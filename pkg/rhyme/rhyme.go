// Package rhyme looks up words that rhyme with a given word.
package rhyme

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrResolver marks every failure to obtain rhymes. Query callers treat it as
// terminal for the whole request.
var ErrResolver = errors.New("rhyme resolver failure")

// Resolver returns up to max words that rhyme with word.
type Resolver interface {
	Rhymes(ctx context.Context, word string, max int) ([]string, error)
}

// Error describes a failed lookup.
type Error struct {
	Word string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("rhymes for %q: status %d: %v", e.Word, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("rhymes for %q: status %d", e.Word, e.Status)
	default:
		return fmt.Sprintf("rhymes for %q: %v", e.Word, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrResolver.
func (e *Error) Is(target error) bool { return target == ErrResolver }

// Static resolves rhymes from a fixed table. Lookups are case-insensitive.
type Static map[string][]string

// Rhymes implements Resolver.
func (s Static) Rhymes(ctx context.Context, word string, max int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Word: word, Err: err}
	}
	words := s[strings.ToLower(word)]
	if max > 0 && len(words) > max {
		words = words[:max]
	}
	return append([]string(nil), words...), nil
}
