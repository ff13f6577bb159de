package types_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/kotodama/pkg/domain/types"
)

func TestSender_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		sender types.Sender
		want   bool
	}{
		{name: "user", sender: types.SenderUser, want: true},
		{name: "assistant", sender: types.SenderAssistant, want: true},
		{name: "system is not a sender", sender: types.Sender("system"), want: false},
		{name: "empty", sender: types.Sender(""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Value(t, tt.sender.IsValid()).Equal(tt.want)
		})
	}
}

func TestParseSender(t *testing.T) {
	s, err := types.ParseSender("assistant")
	gt.NoError(t, err)
	gt.Value(t, s).Equal(types.SenderAssistant)

	_, err = types.ParseSender("bot")
	gt.Error(t, err)
}

func TestTurnState(t *testing.T) {
	t.Run("states are ordered", func(t *testing.T) {
		states := types.AllTurnStates()
		for i := 1; i < len(states); i++ {
			gt.B(t, states[i-1].Before(states[i])).True()
			gt.B(t, states[i].Before(states[i-1])).False()
		}
	})

	t.Run("user message saved from USER_MSG_PERSISTED on", func(t *testing.T) {
		gt.B(t, types.TurnStateGenerated.UserMessageSaved()).False()
		gt.B(t, types.TurnStateUserMsgPersisted.UserMessageSaved()).True()
		gt.B(t, types.TurnStateSummaryUpdated.UserMessageSaved()).True()
	})

	t.Run("only SUMMARY_UPDATED is terminal", func(t *testing.T) {
		for _, s := range types.AllTurnStates() {
			gt.Value(t, s.IsTerminal()).Equal(s == types.TurnStateSummaryUpdated)
		}
		gt.B(t, types.TurnState("DONE").IsValid()).False()
	})
}
