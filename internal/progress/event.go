package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunError       Stage = "RUN_ERROR"
	StageVisitDone      Stage = "VISIT_DONE"
	StageVisitCancelled Stage = "VISIT_CANCELLED"
	StageMismatch       Stage = "MISMATCH"
	StageReplayHop      Stage = "REPLAY_HOP"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for completed visits.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a comparison run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or visit milestone occurred.
	Stage Stage
	// Role names the site configuration being compared.
	Role string
	// Ordinal is the 1-based visit number within the run, when applicable.
	Ordinal int
	// Key is the dedupe key of the visited place.
	Key string
	// Status is the HTTP status observed on the reference deployment.
	Status int
	// StatusClass groups the status for aggregation (2xx, 4xx, ...).
	StatusClass StatusClass
	// Reason carries the cancellation reason or mismatch kind.
	Reason string
	// Dur captures execution latency for visits and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageVisitDone:
		if e.Role == "" {
			return errors.New("visit done requires role")
		}
		if e.Ordinal <= 0 {
			return errors.New("visit done requires ordinal")
		}
	case StageVisitCancelled, StageMismatch:
		if e.Role == "" {
			return fmt.Errorf("%s requires role", e.Stage)
		}
		if e.Reason == "" {
			return fmt.Errorf("%s requires reason", e.Stage)
		}
	case StageReplayHop:
		if e.Role == "" {
			return errors.New("replay hop requires role")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for visit events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
