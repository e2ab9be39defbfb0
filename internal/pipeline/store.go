package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

// CheckpointStore persists cumulative job results after every batch.
// Saves must be idempotent: saving the same batch index twice changes nothing
// beyond the first update, and a save never moves BatchesDone backwards.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, clientID string, jobType domain.JobType, cp domain.Checkpoint) error
	LoadCheckpoint(ctx context.Context, clientID string, jobType domain.JobType) (domain.Checkpoint, bool, error)
	DeleteCheckpoint(ctx context.Context, clientID string, jobType domain.JobType) error
}

// MemoryStore keeps checkpoints in process. Used by tests and dry runs.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]domain.Checkpoint
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]domain.Checkpoint)}
}

func memoryKey(clientID string, jobType domain.JobType) string {
	return clientID + "/" + string(jobType)
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, clientID string, jobType domain.JobType, cp domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(clientID, jobType)
	if prev, ok := m.data[key]; ok && prev.InputHash == cp.InputHash && prev.BatchesDone > cp.BatchesDone {
		return nil
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	cp.Results = append([]byte(nil), cp.Results...)
	m.data[key] = cp
	m.saves++
	return nil
}

func (m *MemoryStore) LoadCheckpoint(_ context.Context, clientID string, jobType domain.JobType) (domain.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.data[memoryKey(clientID, jobType)]
	return cp, ok, nil
}

func (m *MemoryStore) DeleteCheckpoint(_ context.Context, clientID string, jobType domain.JobType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, memoryKey(clientID, jobType))
	return nil
}

// Saves reports how many saves changed stored state.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
