package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"incomed/internal/log"
	"incomed/internal/storage"
)

// Store owns the settings snapshot. Reads are served from a cached copy;
// updates persist first, then notify subscribers.
type Store struct {
	repo *storage.Repository
	log  *log.Logger

	mu       sync.Mutex
	current  Settings
	handlers map[int]func(Settings)
	nextID   int
}

// NewStore loads the persisted settings (or defaults) and repairs any
// malformed values at the boundary.
func NewStore(ctx context.Context, repo *storage.Repository, logger *log.Logger) (*Store, error) {
	s := &Store{
		repo:     repo,
		log:      logger.WithComponent(log.ComponentSettings),
		current:  Default(),
		handlers: make(map[int]func(Settings)),
	}

	raw, ok, err := repo.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if ok {
		var loaded Settings
		if err := json.Unmarshal(raw, &loaded); err != nil {
			s.log.Warn("stored settings unreadable, using defaults", log.FieldError, err)
		} else {
			s.current = loaded
		}
	}
	sanitize(&s.current)

	return s, nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// Update applies a partial update, repairs the result, persists it and
// notifies every subscriber with the new snapshot.
func (s *Store) Update(ctx context.Context, p Patch) error {
	s.mu.Lock()
	next := s.current.clone()
	p.apply(&next)
	sanitize(&next)

	raw, err := json.Marshal(next)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.repo.SaveSettings(ctx, raw); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist settings: %w", err)
	}
	s.current = next
	snapshot := next.clone()
	handlers := make([]func(Settings), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	s.log.Info("settings updated")
	for _, h := range handlers {
		h(snapshot.clone())
	}
	return nil
}

// Subscribe registers a change handler and returns its unsubscribe
// function. Handlers run on the updating goroutine, after persistence.
func (s *Store) Subscribe(fn func(Settings)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}
