package sinks

import (
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/internal/domain"
)

// RecordEvent is the payload written to every sink: one assembled post record
// plus the run and seed it came from.
type RecordEvent struct {
	RunID      string            `json:"run_id"`
	SeedID     string            `json:"seed_id"`
	Record     domain.PostRecord `json:"record"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// NewRecordEvent constructs a RecordEvent for the given run + seed + record.
func NewRecordEvent(runID, seedID string, record domain.PostRecord) RecordEvent {
	return RecordEvent{
		RunID:      runID,
		SeedID:     seedID,
		Record:     record,
		ArchivedAt: time.Now().UTC(),
	}
}
