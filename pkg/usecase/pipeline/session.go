package pipeline

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/utils/logging"
)

// CreateSession persists a new session in the created stage
func (u *UseCase) CreateSession(ctx context.Context, req model.GenerationRequest) (*model.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := u.now()
	session := &model.Session{
		ID:           model.NewSessionID(),
		Statement:    req.Statement,
		Significance: req.Significance,
		Stage:        model.StageCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := u.repo.PutSession(ctx, session); err != nil {
		return nil, goerr.Wrap(err, "failed to create session")
	}

	return session, nil
}

// Status reports the stage of a session together with the registry state
func (u *UseCase) Status(ctx context.Context, id model.SessionID) (*model.StatusReport, error) {
	session, err := u.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	running := u.registry.IsRunning(id)
	report := &model.StatusReport{
		SessionID:      id,
		Stage:          session.Stage,
		SessionRunning: running,
		ActiveJobs:     u.registry.Snapshot(),
		ActiveCount:    u.registry.ActiveCount(),
		MaxConcurrency: u.registry.MaxConcurrency(),
	}

	snapshot, err := u.repo.GetSnapshot(ctx, id)
	if err := ignoreNotFound(err); err != nil {
		return nil, err
	}
	if snapshot != nil {
		report.PerspectiveCount = len(snapshot.Perspectives)
	}

	if running {
		return report, nil
	}

	allocated, err := u.allocation(ctx, id)
	if err := ignoreNotFound(err); err != nil {
		return nil, err
	}
	if allocated != nil {
		report.FinalOutputReady = true
		report.FallbackCount = allocated.Summary.FallbackCount
	}

	failure, err := u.repo.GetFailure(ctx, id)
	if err := ignoreNotFound(err); err != nil {
		return nil, err
	}
	if failure != nil {
		report.LastError = failure.Error
	}

	return report, nil
}

// Perspectives returns the latest streamed snapshot of a session
func (u *UseCase) Perspectives(ctx context.Context, id model.SessionID) (*model.PerspectiveSnapshot, error) {
	if _, err := u.repo.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return u.repo.GetSnapshot(ctx, id)
}

// Output returns one category pool of the final allocation. It fails with
// model.ErrAlreadyRunning while a run is in progress so stale results are never served.
func (u *UseCase) Output(ctx context.Context, id model.SessionID, category string) ([]model.Perspective, error) {
	if _, err := u.repo.GetSession(ctx, id); err != nil {
		return nil, err
	}

	if u.registry.IsRunning(id) {
		return nil, goerr.Wrap(model.ErrAlreadyRunning, "pipeline is still running", goerr.V("session_id", id))
	}

	c, ok := model.ParseCategory(category)
	if !ok {
		return nil, goerr.Wrap(model.ErrInvalidRequest, "invalid category",
			goerr.V("category", category),
			goerr.V("valid", model.Categories()))
	}

	allocated, err := u.allocation(ctx, id)
	if err != nil {
		return nil, err
	}

	return allocated.Pools.Get(c), nil
}

// allocation reads the final allocation of a session. When the repository no longer has it,
// such as an in-memory repository after a restart, the storage archive is used.
func (u *UseCase) allocation(ctx context.Context, id model.SessionID) (*model.AllocationResult, error) {
	allocated, err := u.repo.GetAllocation(ctx, id)
	if err == nil || !errors.Is(err, model.ErrResultNotFound) || u.storage == nil {
		return allocated, err
	}

	archived, archiveErr := u.readArchive(ctx, id)
	if archiveErr != nil {
		if !errors.Is(archiveErr, model.ErrResultNotFound) {
			logging.From(ctx).Warn("failed to read archived allocation", "error", archiveErr, "session_id", id)
		}
		return nil, err
	}
	return archived, nil
}

// Cancel stops the running job of the session
func (u *UseCase) Cancel(ctx context.Context, id model.SessionID) error {
	return u.registry.Cancel(id)
}

// Generate runs perspective generation synchronously without a session
func (u *UseCase) Generate(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error) {
	return u.generator.Generate(ctx, req)
}

func ignoreNotFound(err error) error {
	if err == nil || errors.Is(err, model.ErrResultNotFound) {
		return nil
	}
	return err
}
