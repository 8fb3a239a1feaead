package app

import "errors"

var (
	// ErrConfirmationRequired is returned when a delete was not confirmed.
	ErrConfirmationRequired = errors.New("Deletion must be confirmed.")
	// ErrSaveInProgress is returned when a record is saved while an earlier
	// save of it is still running.
	ErrSaveInProgress = errors.New("A save for this record is already in progress.")
	// ErrForeignObject is returned for storage paths outside the viewer's
	// folder.
	ErrForeignObject = errors.New("That file does not belong to you.")
)
