package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionSessions = "sessions"
	collectionResults  = "results"
)

// Firestore implements Repository. Sessions live in the "sessions" collection and each run
// result is a document of the "results" subcollection keyed by model.ResultKey.
type Firestore struct {
	client *firestore.Client
}

var _ Repository = (*Firestore)(nil)

// New creates a new Firestore repository
func New(projectID, databaseID string) (*Firestore, error) {
	ctx := context.Background()

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	if err := r.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}

func (r *Firestore) sessionDoc(id model.SessionID) *firestore.DocumentRef {
	return r.client.Collection(collectionSessions).Doc(string(id))
}

func (r *Firestore) resultDoc(id model.SessionID, key model.ResultKey) *firestore.DocumentRef {
	return r.sessionDoc(id).Collection(collectionResults).Doc(string(key))
}

func (r *Firestore) PutSession(ctx context.Context, session *model.Session) error {
	if _, err := r.sessionDoc(session.ID).Set(ctx, session); err != nil {
		return goerr.Wrap(err, "failed to put session", goerr.V("session_id", session.ID))
	}
	return nil
}

func (r *Firestore) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	doc, err := r.sessionDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrSessionNotFound, "session does not exist", goerr.V("session_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", id))
	}

	var session model.Session
	if err := doc.DataTo(&session); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("session_id", id))
	}

	return &session, nil
}

func (r *Firestore) PutSnapshot(ctx context.Context, snapshot *model.PerspectiveSnapshot) error {
	return r.putResult(ctx, snapshot.SessionID, model.ResultKeyPerspectives, snapshot)
}

func (r *Firestore) GetSnapshot(ctx context.Context, id model.SessionID) (*model.PerspectiveSnapshot, error) {
	var snapshot model.PerspectiveSnapshot
	if err := r.getResult(ctx, id, model.ResultKeyPerspectives, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *Firestore) PutAllocation(ctx context.Context, result *model.AllocationResult) error {
	return r.putResult(ctx, result.SessionID, model.ResultKeyAllocation, result)
}

func (r *Firestore) GetAllocation(ctx context.Context, id model.SessionID) (*model.AllocationResult, error) {
	var result model.AllocationResult
	if err := r.getResult(ctx, id, model.ResultKeyAllocation, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *Firestore) PutFailure(ctx context.Context, failure *model.RunFailure) error {
	return r.putResult(ctx, failure.SessionID, model.ResultKeyFailure, failure)
}

func (r *Firestore) GetFailure(ctx context.Context, id model.SessionID) (*model.RunFailure, error) {
	var failure model.RunFailure
	if err := r.getResult(ctx, id, model.ResultKeyFailure, &failure); err != nil {
		return nil, err
	}
	return &failure, nil
}

func (r *Firestore) DeleteResult(ctx context.Context, id model.SessionID, key model.ResultKey) error {
	if _, err := r.resultDoc(id, key).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return goerr.Wrap(err, "failed to delete result",
			goerr.V("session_id", id),
			goerr.V("key", key))
	}
	return nil
}

func (r *Firestore) putResult(ctx context.Context, id model.SessionID, key model.ResultKey, data any) error {
	if _, err := r.resultDoc(id, key).Set(ctx, data); err != nil {
		return goerr.Wrap(err, "failed to put result",
			goerr.V("session_id", id),
			goerr.V("key", key))
	}
	return nil
}

func (r *Firestore) getResult(ctx context.Context, id model.SessionID, key model.ResultKey, dst any) error {
	doc, err := r.resultDoc(id, key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrResultNotFound, "result does not exist",
				goerr.V("session_id", id),
				goerr.V("key", key))
		}
		return goerr.Wrap(err, "failed to get result",
			goerr.V("session_id", id),
			goerr.V("key", key))
	}

	if err := doc.DataTo(dst); err != nil {
		return goerr.Wrap(err, "failed to decode result",
			goerr.V("session_id", id),
			goerr.V("key", key))
	}
	return nil
}
