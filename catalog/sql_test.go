package catalog

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/charmbracelet/log"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), "sqlite3", ":memory:", log.New(io.Discard))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreAddAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Add(ctx, "bruh"); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(ctx, "airhorn", "air horn", "airhorn", " "); err != nil {
		t.Fatal(err)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	expected := []SoundEntry{
		{Name: "airhorn", Pseudonyms: []string{"airhorn", "air horn"}},
		{Name: "bruh", Pseudonyms: []string{"bruh"}},
	}
	if !reflect.DeepEqual(entries, expected) {
		t.Errorf("List() = %+v, want %+v", entries, expected)
	}

	if err := store.Add(ctx, "bruh"); !errors.Is(err, ErrExists) {
		t.Errorf("Add() duplicate error = %v, want ErrExists", err)
	}
	if err := store.Add(ctx, "two words"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Add() invalid name error = %v, want ErrInvalidName", err)
	}
}

func TestStoreLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := store.Add(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		token    string
		expected string
		err      error
	}{
		{"bravo", "bravo", nil},
		{"1", "alpha", nil},
		{"3", "charlie", nil},
		{"4", "", ErrNotFound},
		{"0", "", ErrNotFound},
		{"delta", "", ErrNotFound},
	}

	for _, tt := range tests {
		entry, err := store.Lookup(ctx, tt.token)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("Lookup(%q) error = %v, want %v", tt.token, err, tt.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Lookup(%q) error = %v", tt.token, err)
			continue
		}
		if entry.Name != tt.expected {
			t.Errorf("Lookup(%q) = %s, want %s", tt.token, entry.Name, tt.expected)
		}
	}
}

func TestStorePseudonyms(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Add(ctx, "horn"); err != nil {
		t.Fatal(err)
	}

	if err := store.AddPseudonym(ctx, "horn", "honk"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddPseudonym(ctx, "horn", "beep"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddPseudonym(ctx, "horn", "honk"); !errors.Is(err, ErrExists) {
		t.Errorf("AddPseudonym() duplicate error = %v, want ErrExists", err)
	}
	if err := store.AddPseudonym(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddPseudonym() missing sound error = %v, want ErrNotFound", err)
	}

	if err := store.RemovePseudonym(ctx, "horn", "honk"); err != nil {
		t.Fatal(err)
	}
	if err := store.RemovePseudonym(ctx, "horn", "honk"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemovePseudonym() twice error = %v, want ErrNotFound", err)
	}
	if err := store.RemovePseudonym(ctx, "horn", "horn"); !errors.Is(err, ErrPrimaryPseudonym) {
		t.Errorf("RemovePseudonym() primary error = %v, want ErrPrimaryPseudonym", err)
	}

	// positions keep growing after a removal
	if err := store.AddPseudonym(ctx, "horn", "toot"); err != nil {
		t.Fatal(err)
	}

	entry, err := store.Get(ctx, "horn")
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"horn", "beep", "toot"}
	if !reflect.DeepEqual(entry.Pseudonyms, expected) {
		t.Errorf("Pseudonyms = %v, want %v", entry.Pseudonyms, expected)
	}
}

func TestStoreRename(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Add(ctx, "horn", "honk", "trumpet"); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(ctx, "bruh"); err != nil {
		t.Fatal(err)
	}

	if err := store.Rename(ctx, "horn", "bruh"); !errors.Is(err, ErrExists) {
		t.Errorf("Rename() onto existing error = %v, want ErrExists", err)
	}
	if err := store.Rename(ctx, "nope", "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rename() missing error = %v, want ErrNotFound", err)
	}

	// the new name was already a pseudonym; it collapses into the first slot
	if err := store.Rename(ctx, "horn", "trumpet"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(ctx, "horn"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(old) error = %v, want ErrNotFound", err)
	}
	entry, err := store.Get(ctx, "trumpet")
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"trumpet", "honk"}
	if !reflect.DeepEqual(entry.Pseudonyms, expected) {
		t.Errorf("Pseudonyms = %v, want %v", entry.Pseudonyms, expected)
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Add(ctx, "horn", "honk"); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, "horn"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "horn"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrNotFound", err)
	}

	var n int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM pseudonyms").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d pseudonyms left after delete", n)
	}

	// the name is free again
	if err := store.Add(ctx, "horn"); err != nil {
		t.Errorf("Add() after delete error = %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	asked := 0
	err := Migrate(ctx, store.DB(), SQLite, log.New(io.Discard), func(Migration) (bool, error) {
		asked++
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if asked != 0 {
		t.Errorf("asked to confirm %d applied migrations", asked)
	}

	if err := Rollback(ctx, store.DB(), SQLite, log.New(io.Discard)); err != nil {
		t.Fatal(err)
	}
	err = Migrate(ctx, store.DB(), SQLite, log.New(io.Discard), func(m Migration) (bool, error) {
		asked++
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if asked != 1 {
		t.Errorf("asked to confirm %d migrations after rollback, want 1", asked)
	}
}

func TestRebind(t *testing.T) {
	query := "SELECT 1 FROM t WHERE a = ? AND b = ?"
	if got := Postgres.rebind(query); got != "SELECT 1 FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("Postgres.rebind() = %q", got)
	}
	if got := SQLite.rebind(query); got != query {
		t.Errorf("SQLite.rebind() = %q", got)
	}
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"horn", "air_horn", "Bruh2"} {
		if err := ValidName(name); err != nil {
			t.Errorf("ValidName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "two words", " lead"} {
		if err := ValidName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}
