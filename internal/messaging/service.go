package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pactform/pactform/internal/notify"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

// RepositoryPort defines data access methods for messages.
type RepositoryPort interface {
	Create(ctx context.Context, m *Message) error
	// Conversation lists every message between the two principals, oldest
	// first.
	Conversation(ctx context.Context, principalA, principalB string) ([]Message, error)
	// MarkRead flips unread messages from sender to recipient.
	MarkRead(ctx context.Context, senderID, recipientID string) error
	UnreadCount(ctx context.Context, recipientID string) (int, error)
}

// DirectoryPort resolves principal identifiers (durable id or public code).
type DirectoryPort interface {
	ResolvePrincipal(ctx context.Context, ref shared.Ref) (string, error)
}

// Service handles direct-message business logic.
type Service struct {
	repo      RepositoryPort
	directory DirectoryPort
	notifier  notify.Notifier
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, directory DirectoryPort, notifier notify.Notifier) *Service {
	return &Service{repo: repo, directory: directory, notifier: notifier}
}

// Send stores a message to the resolved recipient and pushes a new-message
// event. Delivery of the push is at-most-once; the stored message is the
// durable copy.
func (s *Service) Send(ctx context.Context, senderID, recipientIdentifier, content string) (*Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", httpx.ErrValidation)
	}
	if len(content) > maxContentLength {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", httpx.ErrValidation, maxContentLength)
	}
	recipientID, err := s.directory.ResolvePrincipal(ctx, shared.ParseRef(recipientIdentifier))
	if err != nil {
		return nil, err
	}
	if recipientID == senderID {
		return nil, fmt.Errorf("%w: cannot message yourself", httpx.ErrValidation)
	}

	m := &Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	_ = s.notifier.Push(ctx, recipientID, notify.Event{
		Type:    notify.EventNewMessage,
		ActorID: senderID,
		Detail:  content,
	})
	return m, nil
}

// Conversation returns the message history with the other principal, oldest
// first, and marks the incoming side read.
func (s *Service) Conversation(ctx context.Context, actorID, otherIdentifier string) ([]Message, error) {
	otherID, err := s.directory.ResolvePrincipal(ctx, shared.ParseRef(otherIdentifier))
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.Conversation(ctx, actorID, otherID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkRead(ctx, otherID, actorID); err != nil {
		return nil, err
	}
	return messages, nil
}

// UnreadCount returns the number of unread messages addressed to the actor.
func (s *Service) UnreadCount(ctx context.Context, actorID string) (int, error) {
	return s.repo.UnreadCount(ctx, actorID)
}
