package models

import "time"

// Message represents a project chat message. It is immutable once a
// sequence number has been assigned by the room.
type Message struct {
	ID         string    `db:"id" json:"id"`
	ProjectID  string    `db:"project_id" json:"project_id"`
	SenderID   string    `db:"sender_id" json:"sender_id"`
	SenderName string    `db:"sender_name" json:"sender_name"`
	Body       string    `db:"body" json:"body"`
	Seq        int64     `db:"seq" json:"seq"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
