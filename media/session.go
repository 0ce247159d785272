package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrReleased is returned by Acquire when Release ran while capture was in progress.
var ErrReleased = errors.New("media session released during acquisition")

// Session owns the local tracks. Tracks are lent to connections but only
// Release stops them.
type Session struct {
	provider Provider
	logger   *slog.Logger

	mu     sync.Mutex
	tracks []Track
	gen    uint64
}

// NewSession creates a session capturing from provider.
func NewSession(provider Provider) *Session {
	return &Session{
		provider: provider,
		logger:   slog.Default().With("component", "media"),
	}
}

// Acquire captures tracks matching constraints. While tracks are held it
// returns them without capturing again. Capture failures are *AccessError.
func (s *Session) Acquire(ctx context.Context, constraints Constraints) ([]Track, error) {
	if !constraints.Audio && !constraints.Video.Enabled {
		return nil, &AccessError{Reason: Other, Err: ErrNothingRequested}
	}

	s.mu.Lock()
	if len(s.tracks) > 0 {
		held := append([]Track{}, s.tracks...)
		s.mu.Unlock()
		return held, nil
	}
	gen := s.gen
	s.mu.Unlock()

	tracks, err := s.provider.GetUserMedia(ctx, constraints)
	if err != nil {
		var accessErr *AccessError
		if errors.As(err, &accessErr) {
			return nil, err
		}
		return nil, &AccessError{Reason: Other, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		stopAll(tracks)
		return nil, ErrReleased
	}
	if len(s.tracks) > 0 {
		// A concurrent Acquire won.
		stopAll(tracks)
		return append([]Track{}, s.tracks...), nil
	}
	s.tracks = tracks
	s.logger.Info("acquired local tracks", "count", len(tracks))
	return append([]Track{}, tracks...), nil
}

// Release stops every held track. It is safe to call repeatedly.
func (s *Session) Release() {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.gen++
	s.mu.Unlock()

	if len(tracks) == 0 {
		return
	}
	stopAll(tracks)
	s.logger.Info("released local tracks", "count", len(tracks))
}

// Tracks returns the held tracks.
func (s *Session) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track{}, s.tracks...)
}

// SetEnabled enables or disables every held track of kind.
func (s *Session) SetEnabled(kind Kind, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

// Toggle flips the enabled flag of the held tracks of kind and returns the
// new state. It returns false when no such track is held.
func (s *Session) Toggle(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found, enabled bool
	for _, t := range s.tracks {
		if t.Kind() != kind {
			continue
		}
		if !found {
			found = true
			enabled = !t.Enabled()
		}
		t.SetEnabled(enabled)
	}
	return found && enabled
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		t.Stop()
	}
}

