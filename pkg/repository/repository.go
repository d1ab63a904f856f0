package repository

import (
	"context"

	"github.com/m-mizutani/prism/pkg/model"
)

// Repository defines the interface for session and run result persistence
type Repository interface {
	// PutSession saves a session to the repository
	PutSession(ctx context.Context, session *model.Session) error

	// GetSession retrieves a session by ID. Returns model.ErrSessionNotFound if it does not exist.
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)

	// PutSnapshot overwrites the streamed perspective snapshot of a session
	PutSnapshot(ctx context.Context, snapshot *model.PerspectiveSnapshot) error

	// GetSnapshot retrieves the latest perspective snapshot. Returns model.ErrResultNotFound if none.
	GetSnapshot(ctx context.Context, id model.SessionID) (*model.PerspectiveSnapshot, error)

	// PutAllocation saves the final allocation of a session
	PutAllocation(ctx context.Context, result *model.AllocationResult) error

	// GetAllocation retrieves the final allocation. Returns model.ErrResultNotFound if none.
	GetAllocation(ctx context.Context, id model.SessionID) (*model.AllocationResult, error)

	// PutFailure records the failure of the last run
	PutFailure(ctx context.Context, failure *model.RunFailure) error

	// GetFailure retrieves the failure of the last run. Returns model.ErrResultNotFound if none.
	GetFailure(ctx context.Context, id model.SessionID) (*model.RunFailure, error)

	// DeleteResult removes a result document. Deleting a missing result is not an error.
	DeleteResult(ctx context.Context, id model.SessionID, key model.ResultKey) error
}
