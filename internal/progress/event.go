package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageTargetDone Stage = "TARGET_DONE"
	StageNoTracks   Stage = "NO_TRACKS_ACTIVE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event is one observation about a crawl run.
type Event struct {
	// RunID identifies the crawl run in 16-byte UUID form.
	RunID [16]byte
	// TS is the timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the source name, e.g. "hrn_entries".
	Site string
	URL  string
	// Role and Outcome describe a finished target.
	Role    string
	Outcome string
	// Records counts records accepted per record type.
	Records map[string]int64
	// Duplicates and PersistErrors count sink results that were not acks.
	Duplicates    int64
	PersistErrors int64
	// Unrecognized counts tables that matched no classifier rule.
	Unrecognized int64
	// Dur is the target latency, or the run duration for RUN_DONE.
	Dur time.Duration
	// Note carries low-volume context such as run parameters or error text.
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
	case StageNoTracks:
		if e.Site == "" {
			return errors.New("no tracks event requires site")
		}
	case StageTargetDone:
		if e.Site == "" {
			return errors.New("target done requires site")
		}
		if e.Outcome == "" {
			return errors.New("target done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RecordTotal sums Records across types.
func (e Event) RecordTotal() int64 {
	var n int64
	for _, v := range e.Records {
		n += v
	}
	return n
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
