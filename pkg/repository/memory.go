package repository

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
)

// Memory is an in-process Repository used when no Firestore project is configured and in tests.
// Values are copied on the way in and out so callers never share slices with the store.
type Memory struct {
	mu          sync.RWMutex
	sessions    map[model.SessionID]model.Session
	snapshots   map[model.SessionID]model.PerspectiveSnapshot
	allocations map[model.SessionID]model.AllocationResult
	failures    map[model.SessionID]model.RunFailure
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[model.SessionID]model.Session),
		snapshots:   make(map[model.SessionID]model.PerspectiveSnapshot),
		allocations: make(map[model.SessionID]model.AllocationResult),
		failures:    make(map[model.SessionID]model.RunFailure),
	}
}

func (m *Memory) PutSession(ctx context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrSessionNotFound, "session does not exist", goerr.V("session_id", id))
	}
	return &session, nil
}

func (m *Memory) PutSnapshot(ctx context.Context, snapshot *model.PerspectiveSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *snapshot
	copied.Perspectives = slices.Clone(snapshot.Perspectives)
	m.snapshots[snapshot.SessionID] = copied
	return nil
}

func (m *Memory) GetSnapshot(ctx context.Context, id model.SessionID) (*model.PerspectiveSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, ok := m.snapshots[id]
	if !ok {
		return nil, resultNotFound(id, model.ResultKeyPerspectives)
	}
	snapshot.Perspectives = slices.Clone(snapshot.Perspectives)
	return &snapshot, nil
}

func (m *Memory) PutAllocation(ctx context.Context, result *model.AllocationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[result.SessionID] = copyAllocation(*result)
	return nil
}

func (m *Memory) GetAllocation(ctx context.Context, id model.SessionID) (*model.AllocationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result, ok := m.allocations[id]
	if !ok {
		return nil, resultNotFound(id, model.ResultKeyAllocation)
	}
	copied := copyAllocation(result)
	return &copied, nil
}

func (m *Memory) PutFailure(ctx context.Context, failure *model.RunFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[failure.SessionID] = *failure
	return nil
}

func (m *Memory) GetFailure(ctx context.Context, id model.SessionID) (*model.RunFailure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failure, ok := m.failures[id]
	if !ok {
		return nil, resultNotFound(id, model.ResultKeyFailure)
	}
	return &failure, nil
}

func (m *Memory) DeleteResult(ctx context.Context, id model.SessionID, key model.ResultKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch key {
	case model.ResultKeyPerspectives:
		delete(m.snapshots, id)
	case model.ResultKeyAllocation:
		delete(m.allocations, id)
	case model.ResultKeyFailure:
		delete(m.failures, id)
	default:
		return goerr.New("unknown result key", goerr.V("key", key))
	}
	return nil
}

func resultNotFound(id model.SessionID, key model.ResultKey) error {
	return goerr.Wrap(model.ErrResultNotFound, "result does not exist",
		goerr.V("session_id", id),
		goerr.V("key", key))
}

func copyAllocation(src model.AllocationResult) model.AllocationResult {
	dst := src
	dst.Pools = model.Pools{
		Leftist:  slices.Clone(src.Pools.Leftist),
		Common:   slices.Clone(src.Pools.Common),
		Rightist: slices.Clone(src.Pools.Rightist),
	}
	dst.Summary.CategoryCounts = maps.Clone(src.Summary.CategoryCounts)
	dst.Summary.PoolCounts = maps.Clone(src.Summary.PoolCounts)
	dst.Summary.Allocations = maps.Clone(src.Summary.Allocations)
	return dst
}
