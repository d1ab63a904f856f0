package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Stage is the last known-good processing stage of a session
type Stage string

const (
	StageCreated           Stage = "created"
	StageStreaming         Stage = "streaming"
	StagePerspectivesReady Stage = "perspectives_ready"
)

// Session is the durable record a pipeline run is started for
type Session struct {
	ID           SessionID `json:"session_id" firestore:"id"`
	Statement    string    `json:"statement" firestore:"statement"`
	Significance float64   `json:"significance" firestore:"significance"`
	Stage        Stage     `json:"stage" firestore:"stage"`
	CreatedAt    time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" firestore:"updated_at"`
}

// Request returns the generation request carried by the session
func (s *Session) Request() GenerationRequest {
	return GenerationRequest{
		Statement:    s.Statement,
		Significance: s.Significance,
	}
}

// ResultKey names a per-session result document
type ResultKey string

const (
	ResultKeyPerspectives ResultKey = "perspectives"
	ResultKeyAllocation   ResultKey = "allocation"
	ResultKeyFailure      ResultKey = "failure"
)

// PerspectiveSnapshot is the streamed, growing perspective list of a run
type PerspectiveSnapshot struct {
	SessionID    SessionID     `json:"session_id" firestore:"session_id"`
	Statement    string        `json:"input" firestore:"statement"`
	Stage        Stage         `json:"stage" firestore:"stage"`
	Color        Color         `json:"color,omitempty" firestore:"color"`
	Perspectives []Perspective `json:"perspectives" firestore:"perspectives"`
	UpdatedAt    time.Time     `json:"updated_at" firestore:"updated_at"`
}

// AllocationResult is the final, bias-balanced payload of a run
type AllocationResult struct {
	SessionID SessionID         `json:"session_id" firestore:"session_id"`
	Statement string            `json:"input" firestore:"statement"`
	Pools     Pools             `json:"pools" firestore:"pools"`
	Summary   AllocationSummary `json:"summary" firestore:"summary"`
	CreatedAt time.Time         `json:"created_at" firestore:"created_at"`
}

// RunFailure records why the last run of a session failed
type RunFailure struct {
	SessionID  SessionID `json:"session_id" firestore:"session_id"`
	Error      string    `json:"error" firestore:"error"`
	RevertedTo Stage     `json:"reverted_to" firestore:"reverted_to"`
	FailedAt   time.Time `json:"failed_at" firestore:"failed_at"`
}
