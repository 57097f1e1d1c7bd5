package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncStatusTransitions(t *testing.T) {
	tests := []struct {
		from    SyncStatus
		to      SyncStatus
		allowed bool
	}{
		{SyncStatusDownloading, SyncStatusProcessing, true},
		{SyncStatusDownloading, SyncStatusFailed, true},
		{SyncStatusDownloading, SyncStatusCompleted, false},
		{SyncStatusProcessing, SyncStatusPaused, true},
		{SyncStatusProcessing, SyncStatusCompleted, true},
		{SyncStatusProcessing, SyncStatusFailed, true},
		{SyncStatusProcessing, SyncStatusDownloading, false},
		{SyncStatusPaused, SyncStatusProcessing, true},
		{SyncStatusPaused, SyncStatusFailed, true},
		{SyncStatusPaused, SyncStatusCompleted, false},
		{SyncStatusCompleted, SyncStatusProcessing, false},
		{SyncStatusFailed, SyncStatusProcessing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSyncStatusPredicates(t *testing.T) {
	assert.True(t, SyncStatusCompleted.Terminal())
	assert.True(t, SyncStatusFailed.Terminal())
	assert.False(t, SyncStatusPaused.Terminal())
	assert.False(t, SyncStatusProcessing.Terminal())

	assert.True(t, SyncStatusPaused.Resumable())
	assert.False(t, SyncStatusFailed.Resumable())
	assert.False(t, SyncStatusProcessing.Resumable())
}
