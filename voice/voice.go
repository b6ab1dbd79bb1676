// Package voice turns what participants say in a voice room into sound
// playback in that room.
package voice

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrLeftWhileJoining = errors.New("session left while joining")
)

// AttachError means the transport could not give us a sink for the room.
type AttachError struct {
	Session string
	Err     error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach to %s: %v", e.Session, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// Sink plays sounds into one voice room. Play must not wait for the sound
// to finish.
type Sink interface {
	Play(ctx context.Context, sound string) error
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, session, channel string) (Sink, error)
}

// Reporter echoes transcripts back to the people in the room.
type Reporter interface {
	Report(ctx context.Context, speaker, text string) error
}

type State int

const (
	Absent State = iota
	Joining
	Active
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Active:
		return "active"
	}
	return "absent"
}
