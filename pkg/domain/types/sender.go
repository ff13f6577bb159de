package types

import "fmt"

// Sender identifies who authored a message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// AllSenders returns all valid senders
func AllSenders() []Sender {
	return []Sender{
		SenderUser,
		SenderAssistant,
	}
}

// IsValid checks if the sender is valid
func (s Sender) IsValid() bool {
	switch s {
	case SenderUser,
		SenderAssistant:
		return true
	default:
		return false
	}
}

// String returns the string representation of the sender
func (s Sender) String() string {
	return string(s)
}

// ParseSender parses a string into a Sender
func ParseSender(s string) (Sender, error) {
	sender := Sender(s)
	if !sender.IsValid() {
		return "", fmt.Errorf("invalid sender: %s", s)
	}
	return sender, nil
}
