package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages. Run stages with an empty Site describe the whole
// batch; with a Site they describe one site run within it.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunError       Stage = "RUN_ERROR"
	StageFetchDone      Stage = "FETCH_DONE"
	StageArtifactStored Stage = "ARTIFACT_STORED"
	StageRetry          Stage = "RETRY"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one unit of crawl progress.
type Event struct {
	// RunID identifies the batch run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC time the emitter recorded.
	TS    time.Time
	Stage Stage
	// Site scopes the event to one site definition.
	Site string
	// URL is the fetched locator, or the artifact URI for ARTIFACT_STORED.
	URL   string
	Bytes int64
	// Steps counts stored steps; set on site RUN_DONE events.
	Steps int64
	// Attempt is the failed attempt number on RETRY events.
	Attempt     int
	StatusClass StatusClass
	Dur         time.Duration
	// Note carries the stop reason or error text.
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
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageArtifactStored:
		if e.Site == "" || e.URL == "" {
			return errors.New("artifact stored requires site and url")
		}
	case StageRetry:
		if e.Site == "" {
			return errors.New("retry requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes.
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
