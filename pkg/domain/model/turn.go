package model

import (
	"fmt"

	"github.com/secmon-lab/kotodama/pkg/domain/types"
)

// Generation is the output of the generation provider
type Generation struct {
	Text       string
	References []Reference
}

// TurnError reports a turn that stopped after Stage. UserMessageSaved tells the client whether
// its input is durable, in which case it should resubmit the same idempotency token to retry
// generation instead of sending the text again.
type TurnError struct {
	Stage            types.TurnState
	UserMessageSaved bool
	UserMessageID    MessageID
	Err              error
}

func (e *TurnError) Error() string {
	if e.UserMessageSaved {
		return fmt.Sprintf("turn stopped after %s (user message %s saved): %v", e.Stage, e.UserMessageID, e.Err)
	}
	return fmt.Sprintf("turn stopped after %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
