package bill

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Sender identifies who wrote a chat message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// ChatMessage is one entry in the conversation log
type ChatMessage struct {
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Conversation is the append-only transcript of a session. It doubles as the audit
// trail of how the split evolved.
type Conversation struct {
	messages []ChatMessage
}

// Append adds a message to the end of the log
func (c *Conversation) Append(m ChatMessage) {
	c.messages = append(c.messages, m)
}

// Clear empties the log
func (c *Conversation) Clear() {
	c.messages = nil
}

// Messages returns a copy of the log in order
func (c *Conversation) Messages() []ChatMessage {
	out := slices.Clone(c.messages)
	if out == nil {
		out = []ChatMessage{}
	}
	return out
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	return len(c.messages)
}

// DescribeAssignment renders a manual assignment for the log
func DescribeAssignment(item LineItem, names []string) string {
	people := uniqueNames(names)
	switch len(people) {
	case 0:
		return fmt.Sprintf("Unassigned %s.", item.Name)
	case 1:
		return fmt.Sprintf("Assigned %s (%s) to %s.", item.Name, FormatMoney(item.Price), people[0])
	default:
		return fmt.Sprintf("Split %s (%s) between %s (%s each).",
			item.Name, FormatMoney(item.Price), joinNames(people), FormatMoney(item.Price/float64(len(people))))
	}
}

func joinNames(names []string) string {
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
