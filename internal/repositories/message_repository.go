package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"project-chat-service/internal/models"
)

// MessageRepository is the append-only history store for project
// messages. The live subsystem writes to it; only the scrollback
// endpoint reads from it.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg models.Message) error
	ListProjectMessages(ctx context.Context, projectID string, limit int) ([]models.Message, error)
	LastSeq(ctx context.Context, projectID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a fully formed message. The room actor assigns
// id, sequence number and timestamp before persisting.
func (r *MessageRepo) AppendMessage(ctx context.Context, msg models.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, project_id, sender_id, sender_name, body, seq, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ProjectID, msg.SenderID, msg.SenderName, msg.Body, msg.Seq, msg.CreatedAt)
	return err
}

// ListProjectMessages returns the newest messages for a project in
// ascending sequence order, capped at limit.
func (r *MessageRepo) ListProjectMessages(ctx context.Context, projectID string, limit int) ([]models.Message, error) {
	query := `SELECT id, project_id, sender_id, sender_name, body, seq, created_at
        FROM (
            SELECT id, project_id, sender_id, sender_name, body, seq, created_at
            FROM messages WHERE project_id=$1
            ORDER BY seq DESC LIMIT $2
        ) latest
        ORDER BY seq ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, projectID, limit)
	return msgs, err
}

// LastSeq returns the highest sequence number persisted for a project,
// or zero when the project has no messages yet.
func (r *MessageRepo) LastSeq(ctx context.Context, projectID string) (int64, error) {
	var seq int64
	err := r.db.GetContext(ctx, &seq,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE project_id=$1`, projectID)
	return seq, err
}
