package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the state of a bulk synchronization run.
type SyncStatus string

const (
	SyncStatusDownloading SyncStatus = "downloading"
	SyncStatusProcessing  SyncStatus = "processing"
	SyncStatusPaused      SyncStatus = "paused"
	SyncStatusCompleted   SyncStatus = "completed"
	SyncStatusFailed      SyncStatus = "failed"
)

// DatasetType identifies which bulk dataset a sync run ingests.
type DatasetType string

const (
	DatasetOracleCards DatasetType = "oracle_cards"
	DatasetRulings     DatasetType = "rulings"
)

// SyncRun records one bulk synchronization attempt. Runs are never deleted;
// completed runs double as the freshness guard for "already up to date"
// checks, and paused runs carry the checkpoint needed to resume.
type SyncRun struct {
	ID          uuid.UUID   `json:"id"`
	DatasetType DatasetType `json:"dataset_type"`
	Status      SyncStatus  `json:"status"`

	Processed    int  `json:"processed"`
	Failed       int  `json:"failed"`
	TotalRecords *int `json:"total_records,omitempty"`

	// LastOracleID is the resume cursor: the oracle ID of the last record in
	// the last committed batch. Nil until the first batch commits.
	LastOracleID *string `json:"last_oracle_id,omitempty"`

	SourceURI  *string `json:"source_uri,omitempty"`
	SourceSize *int64  `json:"source_size,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Terminal reports whether the run can never transition again.
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed
}

// Resumable reports whether a run in this state accepts a resume request.
func (s SyncStatus) Resumable() bool {
	return s == SyncStatusPaused
}

// validTransitions enumerates the sync run state machine.
var validTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusDownloading: {SyncStatusProcessing, SyncStatusFailed},
	SyncStatusProcessing:  {SyncStatusPaused, SyncStatusCompleted, SyncStatusFailed},
	SyncStatusPaused:      {SyncStatusProcessing, SyncStatusFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
