package model

import (
	"time"

	"github.com/google/uuid"
)

// Template is a reusable message body with {{placeholder}} tokens resolved
// per recipient at broadcast time.
type Template struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
