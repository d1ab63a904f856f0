package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/adapter"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
	"github.com/m-mizutani/prism/pkg/utils/logging"
)

// RunPipeline starts a background run for the session. A busy session or a full registry is
// reported through RunResponse.Status, not as an error. The returned Job is nil unless started.
func (u *UseCase) RunPipeline(ctx context.Context, id model.SessionID, sendDownstream bool) (*model.RunResponse, *Job, error) {
	if _, err := u.repo.GetSession(ctx, id); err != nil {
		return nil, nil, err
	}

	job, err := u.registry.Start(ctx, id, sendDownstream, func(ctx context.Context) error {
		return u.execute(ctx, id, sendDownstream)
	})

	switch {
	case err == nil:
		return &model.RunResponse{Status: model.RunStatusStarted, SessionID: id}, job, nil

	case errors.Is(err, model.ErrAlreadyRunning):
		logging.From(ctx).Info("pipeline already running", "session_id", id)
		return &model.RunResponse{Status: model.RunStatusBusy, SessionID: id}, nil, nil

	case errors.Is(err, model.ErrCapacityExceeded):
		maxConcurrency := u.registry.MaxConcurrency()
		logging.From(ctx).Warn("pipeline capacity exceeded",
			"session_id", id,
			"max_concurrency", maxConcurrency)
		return &model.RunResponse{
			Status:         model.RunStatusCapacityExceeded,
			SessionID:      id,
			MaxConcurrency: &maxConcurrency,
		}, nil, nil

	default:
		return nil, nil, err
	}
}

// lastGood is the state a failed run falls back to
type lastGood struct {
	stage    model.Stage
	snapshot *model.PerspectiveSnapshot
}

// execute is the body of one pipeline run. On failure the session is reverted to the stage
// and snapshot it had before the run and the error is recorded. The previous allocation is
// only replaced by a successful run.
func (u *UseCase) execute(ctx context.Context, id model.SessionID, sendDownstream bool) error {
	session, err := u.repo.GetSession(ctx, id)
	if err != nil {
		return err
	}

	snapshot, err := u.repo.GetSnapshot(ctx, id)
	if err := ignoreNotFound(err); err != nil {
		return err
	}
	previous := lastGood{stage: session.Stage, snapshot: snapshot}

	if err := u.run(ctx, session, sendDownstream); err != nil {
		u.recordFailure(ctx, session, previous, err)
		return err
	}
	return nil
}

func (u *UseCase) run(ctx context.Context, session *model.Session, sendDownstream bool) error {
	if err := u.repo.DeleteResult(ctx, session.ID, model.ResultKeyFailure); err != nil {
		return err
	}

	if err := u.setStage(ctx, session, model.StageStreaming); err != nil {
		return err
	}

	sink := func(ctx context.Context, color model.Color, all []model.Perspective) error {
		return u.repo.PutSnapshot(ctx, &model.PerspectiveSnapshot{
			SessionID:    session.ID,
			Statement:    session.Statement,
			Stage:        model.StageStreaming,
			Color:        color,
			Perspectives: all,
			UpdatedAt:    u.now(),
		})
	}

	result, err := u.generator.Generate(ctx, session.Request(), perspective.WithSink(sink))
	if err != nil {
		return err
	}

	pools, summary := u.allocator.Distribute(ctx, result.Perspectives)
	summary.FallbackCount = result.FallbackCount

	allocated := &model.AllocationResult{
		SessionID: session.ID,
		Statement: session.Statement,
		Pools:     *pools,
		Summary:   *summary,
		CreatedAt: u.now(),
	}
	if err := u.repo.PutSnapshot(ctx, &model.PerspectiveSnapshot{
		SessionID:    session.ID,
		Statement:    session.Statement,
		Stage:        model.StagePerspectivesReady,
		Perspectives: result.Perspectives,
		UpdatedAt:    u.now(),
	}); err != nil {
		return err
	}

	if err := u.repo.PutAllocation(ctx, allocated); err != nil {
		return err
	}

	if err := u.setStage(ctx, session, model.StagePerspectivesReady); err != nil {
		return err
	}

	logging.From(ctx).Info("allocated perspectives",
		"total_generated", summary.TotalGenerated,
		"target_size", summary.TargetSize,
		"distribution_source", summary.DistributionSource,
		"shortfall", summary.Shortfall,
		"fallbacks", summary.FallbackCount)

	if u.storage != nil {
		if err := u.archive(ctx, allocated); err != nil {
			logging.From(ctx).Warn("failed to archive allocation", "error", err)
		}
	}

	if sendDownstream {
		u.sendDownstream(ctx, session, pools)
	}

	return nil
}

func (u *UseCase) setStage(ctx context.Context, session *model.Session, stage model.Stage) error {
	session.Stage = stage
	session.UpdatedAt = u.now()
	if err := u.repo.PutSession(ctx, session); err != nil {
		return goerr.Wrap(err, "failed to update session stage", goerr.V("stage", stage))
	}
	return nil
}

// recordFailure runs even when ctx was canceled so the failure stays visible in status.
// Partial snapshots of the failed run are replaced by the previous one when there was one.
func (u *UseCase) recordFailure(ctx context.Context, session *model.Session, previous lastGood, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.From(ctx)

	failure := &model.RunFailure{
		SessionID:  session.ID,
		Error:      cause.Error(),
		RevertedTo: previous.stage,
		FailedAt:   u.now(),
	}
	if err := u.repo.PutFailure(ctx, failure); err != nil {
		logger.Error("failed to record run failure", "error", err)
	}

	if previous.snapshot != nil {
		if err := u.repo.PutSnapshot(ctx, previous.snapshot); err != nil {
			logger.Error("failed to restore previous snapshot", "error", err)
		}
	}

	if err := u.setStage(ctx, session, previous.stage); err != nil {
		logger.Error("failed to revert session stage", "error", err, "stage", previous.stage)
	}
}

func archiveKey(id model.SessionID) string {
	return fmt.Sprintf("allocations/%s.json", id)
}

func (u *UseCase) archive(ctx context.Context, result *model.AllocationResult) error {
	key := archiveKey(result.SessionID)

	w, err := u.storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open archive writer", goerr.V("key", key))
	}

	if err := json.NewEncoder(w).Encode(result); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write archive", goerr.V("key", key))
	}

	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close archive writer", goerr.V("key", key))
	}

	logging.From(ctx).Debug("archived allocation", "key", key)
	return nil
}

// readArchive loads an archived allocation. A missing object is model.ErrResultNotFound.
func (u *UseCase) readArchive(ctx context.Context, id model.SessionID) (*model.AllocationResult, error) {
	key := archiveKey(id)

	r, err := u.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var result model.AllocationResult
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, goerr.Wrap(err, "failed to decode archive", goerr.V("key", key))
	}
	return &result, nil
}

// sendDownstream is best effort; a failure does not fail the run
func (u *UseCase) sendDownstream(ctx context.Context, session *model.Session, pools *model.Pools) {
	if u.debate == nil {
		logging.From(ctx).Warn("downstream hand-off requested but no debate service is configured")
		return
	}

	req := session.Request()
	upload := &adapter.PerspectiveUpload{
		Common:   pools.Common,
		Leftist:  pools.Leftist,
		Rightist: pools.Rightist,
		Input:    &req,
	}

	if err := u.debate.UploadPerspectives(ctx, upload); err != nil {
		logging.From(ctx).Warn("failed to send perspectives downstream", "error", err)
		return
	}
	logging.From(ctx).Info("sent perspectives downstream")
}
