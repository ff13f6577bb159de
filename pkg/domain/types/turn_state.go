package types

// TurnState is the progress of one conversational turn. States advance in declaration order;
// a failed turn reports the last state it reached.
type TurnState string

const (
	TurnStateReceived              TurnState = "RECEIVED"
	TurnStateContextRetrieved      TurnState = "CONTEXT_RETRIEVED"
	TurnStateGenerated             TurnState = "GENERATED"
	TurnStateUserMsgPersisted      TurnState = "USER_MSG_PERSISTED"
	TurnStateAssistantMsgPersisted TurnState = "ASSISTANT_MSG_PERSISTED"
	TurnStateSummaryUpdated        TurnState = "SUMMARY_UPDATED"
)

// AllTurnStates returns all states in order
func AllTurnStates() []TurnState {
	return []TurnState{
		TurnStateReceived,
		TurnStateContextRetrieved,
		TurnStateGenerated,
		TurnStateUserMsgPersisted,
		TurnStateAssistantMsgPersisted,
		TurnStateSummaryUpdated,
	}
}

// IsValid checks if the turn state is valid
func (s TurnState) IsValid() bool {
	return s.order() >= 0
}

// IsTerminal reports whether the turn completed successfully
func (s TurnState) IsTerminal() bool {
	return s == TurnStateSummaryUpdated
}

// UserMessageSaved reports whether a turn in this state has durably stored the user input
func (s TurnState) UserMessageSaved() bool {
	return s.order() >= TurnStateUserMsgPersisted.order()
}

// Before reports whether s comes strictly before other
func (s TurnState) Before(other TurnState) bool {
	return s.order() < other.order()
}

func (s TurnState) order() int {
	for i, st := range AllTurnStates() {
		if st == s {
			return i
		}
	}
	return -1
}

// String returns the string representation of the turn state
func (s TurnState) String() string {
	return string(s)
}
