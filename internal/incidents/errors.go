package incidents

import (
	"errors"
	"fmt"
	"strings"
)

// Resolution errors.
var (
	ErrIncidentNotFound  = errors.New("no incident matches channel")
	ErrAmbiguousIncident = errors.New("more than one incident matches channel")
	ErrAmbiguousRoom     = errors.New("more than one chat room matches name")
	ErrRoomNotReady      = errors.New("incident has no chat room")
)

// Collaborator errors returned by adapters.
var (
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrNameTaken               = errors.New("room name already taken")
	ErrAlreadyMember           = errors.New("user already in room")
	ErrNoSuchTransition        = errors.New("transition not available")
)

// CollaboratorError wraps a failed call to an external collaborator.
// It matches ErrCollaboratorUnavailable with errors.Is.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Is reports every collaborator error as ErrCollaboratorUnavailable.
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorUnavailable
}

// PartialFailureError reports an operation that failed after at least one
// external write succeeded. Completed lists those writes in order so the
// state can be reconciled by hand.
type PartialFailureError struct {
	Operation   string
	OperationID string
	IncidentID  int
	Completed   []string
	Failed      string
	Err         error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s %s: incident %d: %s failed after [%s]: %v",
		e.Operation, e.OperationID, e.IncidentID, e.Failed, strings.Join(e.Completed, ", "), e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

func collaboratorErr(collaborator, op string, err error) error {
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}
