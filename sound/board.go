package sound

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"node.town/honk/catalog"
)

// Board keeps catalog entries and stored clips in step.
type Board struct {
	catalog catalog.Catalog
	library *Library
	log     *log.Logger
}

func NewBoard(cat catalog.Catalog, lib *Library, logger *log.Logger) *Board {
	return &Board{catalog: cat, library: lib, log: logger}
}

func (b *Board) Catalog() catalog.Catalog { return b.catalog }
func (b *Board) Library() *Library        { return b.library }

// Import stores the clip and registers it with its name as the only
// pseudonym. Importing over an existing sound replaces its audio and keeps
// its pseudonyms; created reports which happened.
func (b *Board) Import(ctx context.Context, name string, input io.Reader) (created bool, err error) {
	if _, err := b.library.Import(ctx, name, input); err != nil {
		return false, err
	}

	err = b.catalog.Add(ctx, name)
	switch {
	case errors.Is(err, catalog.ErrExists):
		b.log.Info("replaced sound audio", "sound", name)
		return false, nil
	case err != nil:
		if derr := b.library.Delete(name); derr != nil {
			b.log.Warn("failed to remove orphaned clip", "sound", name, "error", derr)
		}
		return false, err
	}
	return true, nil
}

// Rename moves both the entry and the clip. A missing clip is tolerated so
// a catalog entry can always be repaired.
func (b *Board) Rename(ctx context.Context, oldName, newName string) error {
	if err := b.catalog.Rename(ctx, oldName, newName); err != nil {
		return err
	}

	err := b.library.Rename(oldName, newName)
	switch {
	case errors.Is(err, ErrMissing):
		b.log.Warn("renamed sound has no clip", "sound", newName)
		return nil
	case err != nil:
		if rerr := b.catalog.Rename(ctx, newName, oldName); rerr != nil {
			return fmt.Errorf("%w (and restoring the catalog failed: %v)", err, rerr)
		}
		return err
	}
	return nil
}

// Delete removes the entry, its pseudonyms and its clip.
func (b *Board) Delete(ctx context.Context, name string) error {
	if err := b.catalog.Delete(ctx, name); err != nil {
		return err
	}
	return b.library.Delete(name)
}
