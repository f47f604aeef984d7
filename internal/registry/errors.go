package registry

import (
	"errors"
	"fmt"

	"github.com/nao1215/reductree/internal/stage"
)

var (
	// ErrNotFound matches every *NotFoundError via errors.Is.
	ErrNotFound = errors.New("stage not found")

	// ErrConflict matches every *RegistrationConflictError via errors.Is.
	ErrConflict = errors.New("registration conflict")

	// ErrAbstractStage is returned when a Base-kind class is instantiated.
	ErrAbstractStage = stage.ErrAbstract

	// ErrNoFactory is returned when a runnable manifest names an
	// implementation that is not compiled into the binary.
	ErrNoFactory = errors.New("no compiled implementation")
)

// NotFoundError is returned by lookups for unknown stage classes.
// It is always recoverable by the caller.
type NotFoundError struct {
	// By is the namespace that was searched ("implementation" or "display").
	By   string
	Name string
}

// Error implements error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no stage with %s name %q is registered", e.By, e.Name)
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// RegistrationConflictError reports two implementations sharing a display name.
type RegistrationConflictError struct {
	DisplayName string

	Existing       string
	ExistingSource string

	Conflicting       string
	ConflictingSource string
}

// Error implements error.
func (e *RegistrationConflictError) Error() string {
	return fmt.Sprintf("display name %q of %q (%s) is already used by %q (%s)",
		e.DisplayName, e.Conflicting, e.ConflictingSource, e.Existing, e.ExistingSource)
}

// Is makes errors.Is(err, ErrConflict) true.
func (e *RegistrationConflictError) Is(target error) bool {
	return target == ErrConflict
}
