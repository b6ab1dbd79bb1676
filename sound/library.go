// Package sound stores playable clips as Ogg Opus files.
package sound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"node.town/honk/audio"
	"node.town/honk/catalog"
)

const Ext = ".ogg"

var ErrMissing = errors.New("sound file missing")

// Clip is a sound ready to send: 20ms stereo Opus packets.
type Clip struct {
	Name    string
	Packets [][]byte
}

type Library struct {
	fs     afero.Fs
	dir    string
	ffmpeg string
	log    *log.Logger
}

func NewLibrary(fs afero.Fs, dir, ffmpeg string, logger *log.Logger) (*Library, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sounds directory: %w", err)
	}
	return &Library{fs: fs, dir: dir, ffmpeg: ffmpeg, log: logger}, nil
}

func (l *Library) Path(name string) string {
	return filepath.Join(l.dir, name+Ext)
}

func (l *Library) Exists(name string) bool {
	ok, err := afero.Exists(l.fs, l.Path(name))
	return err == nil && ok
}

// Open returns the reader for the raw Ogg file.
func (l *Library) Open(name string) (afero.File, error) {
	if err := catalog.ValidName(name); err != nil {
		return nil, err
	}
	f, err := l.fs.Open(l.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open sound %s: %w", name, err)
	}
	return f, nil
}

func (l *Library) Load(name string) (*Clip, error) {
	f, err := l.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	packets, err := audio.ReadOggOpus(f)
	if err != nil {
		return nil, fmt.Errorf("load sound %s: %w", name, err)
	}
	return &Clip{Name: name, Packets: packets}, nil
}

// Save writes packets atomically as name.
func (l *Library) Save(name string, packets [][]byte) error {
	if err := catalog.ValidName(name); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := audio.WriteOggOpus(&buf, audio.Channels, packets); err != nil {
		return fmt.Errorf("encode sound %s: %w", name, err)
	}

	tmp := l.Path(name) + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write sound %s: %w", name, err)
	}
	if err := l.fs.Rename(tmp, l.Path(name)); err != nil {
		l.fs.Remove(tmp)
		return fmt.Errorf("store sound %s: %w", name, err)
	}
	return nil
}

// Import decodes any audio file with ffmpeg and stores it as name.
func (l *Library) Import(ctx context.Context, name string, input io.Reader) (*Clip, error) {
	if err := catalog.ValidName(name); err != nil {
		return nil, err
	}

	pcm, err := audio.DecodeToPCM(ctx, l.ffmpeg, input)
	if err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}

	enc, err := audio.NewEncoder(audio.Channels)
	if err != nil {
		return nil, err
	}
	packets, err := enc.EncodePCM(pcm)
	if err != nil {
		return nil, err
	}

	if err := l.Save(name, packets); err != nil {
		return nil, err
	}
	l.log.Info("imported", "sound", name, "duration", audio.Voice.Duration(len(pcm)))
	return &Clip{Name: name, Packets: packets}, nil
}

func (l *Library) Rename(oldName, newName string) error {
	if err := catalog.ValidName(newName); err != nil {
		return err
	}
	if !l.Exists(oldName) {
		return fmt.Errorf("%w: %s", ErrMissing, oldName)
	}
	if err := l.fs.Rename(l.Path(oldName), l.Path(newName)); err != nil {
		return fmt.Errorf("rename sound %s: %w", oldName, err)
	}
	return nil
}

// Delete removes the file. A missing file is not an error.
func (l *Library) Delete(name string) error {
	err := l.fs.Remove(l.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete sound %s: %w", name, err)
	}
	return nil
}

// List returns stored sound names in order.
func (l *Library) List() ([]string, error) {
	infos, err := afero.ReadDir(l.fs, l.dir)
	if err != nil {
		return nil, fmt.Errorf("list sounds: %w", err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), Ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(info.Name(), Ext))
	}
	sort.Strings(names)
	return names, nil
}
