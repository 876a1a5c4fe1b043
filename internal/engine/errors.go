package engine

import (
	"errors"
	"fmt"

	"github.com/stemsi/olpm-engine/internal/model"
)

// Failure modes surfaced by the engine. Match them with errors.Is.
var (
	// ErrNotFound means the test link did not resolve. Terminal for the load.
	ErrNotFound = errors.New("test not found")
	// ErrNetwork covers transport failures, timeouts and non-2xx responses.
	// Recoverable by a caller-driven retry.
	ErrNetwork = errors.New("assessment repository unavailable")
	// ErrInvalidState is returned when a command is not valid in the current
	// phase. The session is never modified when it is returned.
	ErrInvalidState = errors.New("command not valid in current phase")
	// ErrAlreadySubmitted accompanies the existing result when a submit call
	// finds the submission already made. Callers treat it as success.
	ErrAlreadySubmitted = errors.New("test already submitted")

	ErrInvalidLink     = errors.New("test link must not be empty")
	ErrInvalidTest     = errors.New("invalid test definition")
	ErrUnknownQuestion = errors.New("question does not belong to this test")
	ErrInvalidOption   = errors.New("option must be one of A, B, C, D")

	ErrNoSession = fmt.Errorf("%w: no test loaded", ErrInvalidState)
)

func invalidState(cmd string, phase model.Phase) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, cmd, phase)
}

// asNetworkError makes sure every submit failure matches ErrNetwork.
func asNetworkError(err error) error {
	if errors.Is(err, ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
