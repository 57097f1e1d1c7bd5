package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrResolutionFailed   = errors.New("resolution failed")
	ErrInvalidResumeState = errors.New("sync run is not resumable")
	ErrSyncInProgress     = errors.New("sync already in progress for dataset")
)
