// Package web serves the bot's status over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"

	"node.town/honk/catalog"
	"node.town/honk/events"
	"node.town/honk/sound"
	"node.town/honk/voice"
)

type Catalog interface {
	List(ctx context.Context) ([]catalog.SoundEntry, error)
}

type Files interface {
	Open(name string) (afero.File, error)
}

type Sessions interface {
	Sessions() []voice.Info
}

type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Server struct {
	catalog  Catalog
	files    Files
	sessions Sessions
	events   Subscriber
	log      *log.Logger
}

func New(
	catalog Catalog,
	files Files,
	sessions Sessions,
	events Subscriber,
	logger *log.Logger,
) *Server {
	return &Server{
		catalog:  catalog,
		files:    files,
		sessions: sessions,
		events:   events,
		log:      logger,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "ok")
	})
	r.Get("/sounds", s.handleSounds)
	r.Get("/sounds/{name}", s.handleSoundFile)
	r.Get("/sessions", s.handleSessions)
	r.Get("/events", s.handleEvents)
	return r
}

// Serve listens on port until ctx is done.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleSounds(w http.ResponseWriter, r *http.Request) {
	entries, err := s.catalog.List(r.Context())
	if err != nil {
		s.log.Error("failed to list sounds", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []catalog.SoundEntry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleSoundFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := s.files.Open(name)
	switch {
	case errors.Is(err, catalog.ErrInvalidName):
		http.Error(w, "Invalid sound name", http.StatusBadRequest)
		return
	case errors.Is(err, sound.ErrMissing):
		http.NotFound(w, r)
		return
	case err != nil:
		s.log.Error("failed to open sound", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	var modtime time.Time
	if info, err := f.Stat(); err == nil {
		modtime = info.ModTime()
	}

	w.Header().Set("Content-Type", "audio/ogg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name+sound.Ext))
	http.ServeContent(w, r, name+sound.Ext, modtime, f)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.sessions.Sessions())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
