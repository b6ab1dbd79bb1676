// Package catalog keeps the sound names and the phrases that trigger them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("sound not found")
	ErrExists           = errors.New("already exists")
	ErrInvalidName      = errors.New("invalid sound name")
	ErrPrimaryPseudonym = errors.New("a sound's own name cannot be removed from its pseudonyms")
)

// SoundEntry is a sound and its trigger phrases. The first pseudonym is the
// sound's own name.
type SoundEntry struct {
	Name       string   `json:"name"`
	Pseudonyms []string `json:"pseudonyms"`
}

type Catalog interface {
	// List returns every entry ordered by name.
	List(ctx context.Context) ([]SoundEntry, error)
	Get(ctx context.Context, name string) (SoundEntry, error)
	// Lookup resolves a name, or a 1-based position in List.
	Lookup(ctx context.Context, token string) (SoundEntry, error)
	Add(ctx context.Context, name string, pseudonyms ...string) error
	AddPseudonym(ctx context.Context, name, phrase string) error
	RemovePseudonym(ctx context.Context, name, phrase string) error
	Rename(ctx context.Context, oldName, newName string) error
	Delete(ctx context.Context, name string) error
}

// ValidName reports whether name can be used as a sound name. Names are
// single words that are safe to use as file names.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case len(strings.Fields(name)) != 1 || strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidName, name)
	}
	return nil
}
