package app

import (
	"sync"

	"supashowcase/pkg/domain"
)

// EditorState is the lifecycle of one record form.
type EditorState string

const (
	StateIdle    EditorState = "idle"
	StateEditing EditorState = "editing"
	StateSaving  EditorState = "saving"
)

// Editor tracks one record through idle, editing and saving. A failed save
// returns to editing with the error kept; a successful one returns to idle.
type Editor struct {
	mu    sync.Mutex
	state EditorState
	draft domain.BookDraft
	err   error
}

func NewEditor() *Editor {
	return &Editor{state: StateIdle}
}

// Edit replaces the draft. It is refused while saving.
func (e *Editor) Edit(d domain.BookDraft) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateSaving {
		return ErrSaveInProgress
	}
	e.state = StateEditing
	e.draft = d
	e.err = nil
	return nil
}

// Begin moves an editing record to saving and returns the draft to submit.
func (e *Editor) Begin() (domain.BookDraft, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateSaving {
		return domain.BookDraft{}, ErrSaveInProgress
	}
	e.state = StateSaving
	e.err = nil
	return e.draft, nil
}

// Finish records the outcome of the save started by Begin.
func (e *Editor) Finish(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = StateEditing
		e.err = err
		return
	}
	e.state = StateIdle
	e.draft = domain.BookDraft{}
	e.err = nil
}

// Cancel discards the draft unless a save is running.
func (e *Editor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateSaving {
		return
	}
	e.state = StateIdle
	e.draft = domain.BookDraft{}
	e.err = nil
}

// State returns the current state and the last save error.
func (e *Editor) State() (EditorState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.err
}
