// Package memory provides in-memory repository implementations for development and testing.
// These repositories store data in memory and are not persistent across restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/consolidator/internal/domain"
)

// MigrationRepository is an in-memory implementation of the migration record repository.
// It's useful for development and testing without requiring a database.
type MigrationRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.MigrationRecord
}

// NewMigrationRepository creates a new in-memory migration record repository.
func NewMigrationRepository() *MigrationRepository {
	return &MigrationRepository{
		data: make(map[string]*domain.MigrationRecord),
	}
}

// Create stores a new migration record.
func (r *MigrationRepository) Create(ctx context.Context, rec *domain.MigrationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Generate ID if not set
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, exists := r.data[rec.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	// Clone to avoid external mutations
	r.data[rec.ID] = cloneRecord(rec)
	return nil
}

// Get retrieves a migration record by ID.
func (r *MigrationRepository) Get(ctx context.Context, id string) (*domain.MigrationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// List returns the newest records matching the filter, most recent cycle
// first. A non-positive limit returns every match.
func (r *MigrationRepository) List(ctx context.Context, filter domain.MigrationFilter, limit int) ([]*domain.MigrationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.MigrationRecord
	for _, rec := range r.data {
		if filter.Matches(rec) {
			out = append(out, cloneRecord(rec))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Cycle != out[j].Cycle {
			return out[i].Cycle > out[j].Cycle
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteOld removes records created before olderThan.
func (r *MigrationRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, rec := range r.data {
		if rec.CreatedAt.Before(olderThan) {
			delete(r.data, id)
			n++
		}
	}
	return n, nil
}

func cloneRecord(rec *domain.MigrationRecord) *domain.MigrationRecord {
	c := *rec
	return &c
}
