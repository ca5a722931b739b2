package models

// Identity is the authenticated principal bound to a connection for its
// lifetime.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"user_name"`
	Email       string `json:"email,omitempty"`
}
