package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-session/internal/models"
)

// Journal records ride state transitions for later reconciliation.
type Journal interface {
	Append(ctx context.Context, e models.JournalEntry) error
}

// Prepare fills in the entry id and timestamp when the caller left them empty.
func Prepare(e models.JournalEntry) models.JournalEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}

type MemoryJournal struct {
	mu      sync.RWMutex
	entries []models.JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Append(ctx context.Context, e models.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Prepare(e))
	return nil
}

// List returns the entries for one ride, oldest first. rideID 0 lists all.
func (m *MemoryJournal) List(rideID int64) []models.JournalEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.JournalEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if rideID == 0 || e.RideID == rideID {
			out = append(out, e)
		}
	}
	return out
}
