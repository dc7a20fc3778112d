// Package messaging persists direct messages between principals and pushes a
// real-time notification to the recipient on send.
package messaging

import "time"

// maxContentLength caps message bodies.
const maxContentLength = 1000

// Message is one direct message. Read is flipped when the recipient loads
// the conversation.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Content     string
	Read        bool
	CreatedAt   time.Time
}
