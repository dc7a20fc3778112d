package messaging

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for messages.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const messageColumns = `id, sender_id, recipient_id, content, read, created_at`

// Create inserts a message row.
func (r *Repository) Create(ctx context.Context, m *Message) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO messages (id, sender_id, recipient_id, content, read, created_at)
VALUES ($1, $2, $3, $4, FALSE, $5)`,
		m.ID, m.SenderID, m.RecipientID, m.Content, m.CreatedAt)
	return err
}

// Conversation lists both directions between the two principals, oldest
// first.
func (r *Repository) Conversation(ctx context.Context, principalA, principalB string) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages
WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
ORDER BY created_at ASC`, principalA, principalB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkRead flips unread messages from sender to recipient.
func (r *Repository) MarkRead(ctx context.Context, senderID, recipientID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET read = TRUE
WHERE sender_id = $1 AND recipient_id = $2 AND read = FALSE`, senderID, recipientID)
	return err
}

// UnreadCount counts unread messages addressed to the recipient.
func (r *Repository) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages
WHERE recipient_id = $1 AND read = FALSE`, recipientID).Scan(&count)
	return count, err
}
