package sound

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"node.town/honk/catalog"
)

func newTestLibrary(t *testing.T) (*Library, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	lib, err := NewLibrary(fs, "sounds", "", log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	return lib, fs
}

func TestLibrarySaveAndLoad(t *testing.T) {
	lib, _ := newTestLibrary(t)
	packets := [][]byte{{0xfc, 1}, {0xfc, 2}, {0xfc, 3}}

	if err := lib.Save("horn", packets); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !lib.Exists("horn") {
		t.Fatal("saved sound should exist")
	}

	clip, err := lib.Load("horn")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if clip.Name != "horn" || len(clip.Packets) != len(packets) {
		t.Fatalf("Load() = %+v", clip)
	}
	for i := range packets {
		if !bytes.Equal(clip.Packets[i], packets[i]) {
			t.Errorf("packet %d = %v, want %v", i, clip.Packets[i], packets[i])
		}
	}
}

func TestLibraryMissing(t *testing.T) {
	lib, _ := newTestLibrary(t)

	if _, err := lib.Load("nope"); !errors.Is(err, ErrMissing) {
		t.Errorf("Load() error = %v, want ErrMissing", err)
	}
	if err := lib.Rename("nope", "other"); !errors.Is(err, ErrMissing) {
		t.Errorf("Rename() error = %v, want ErrMissing", err)
	}
	if err := lib.Delete("nope"); err != nil {
		t.Errorf("Delete() of missing sound error = %v", err)
	}
	if _, err := lib.Load("../etc/passwd"); !errors.Is(err, catalog.ErrInvalidName) {
		t.Errorf("Load() traversal error = %v, want ErrInvalidName", err)
	}
}

func TestLibraryRenameDeleteList(t *testing.T) {
	lib, fs := newTestLibrary(t)
	for _, name := range []string{"bravo", "alpha"} {
		if err := lib.Save(name, [][]byte{{0xfc}}); err != nil {
			t.Fatal(err)
		}
	}
	// stray files are ignored
	afero.WriteFile(fs, "sounds/notes.txt", []byte("hi"), 0o644)

	names, err := lib.List()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"alpha", "bravo"}) {
		t.Errorf("List() = %v", names)
	}

	if err := lib.Rename("alpha", "charlie"); err != nil {
		t.Fatal(err)
	}
	if lib.Exists("alpha") || !lib.Exists("charlie") {
		t.Error("Rename() did not move the file")
	}

	if err := lib.Delete("bravo"); err != nil {
		t.Fatal(err)
	}
	names, _ = lib.List()
	if !reflect.DeepEqual(names, []string{"charlie"}) {
		t.Errorf("List() after delete = %v", names)
	}
}
