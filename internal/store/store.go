package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Role names stored on user rows. They mirror the conference roles.
const (
	RoleModerator = "moderator"
	RoleLearner   = "learner"
)

// User represents a provisioned account. Guest learners never hit this table.
type User struct {
	ID           string
	Username     string
	Nickname     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// MapNode is routing metadata for a topic: a map node a moderator may send a
// learner to. Read-only from the conference's perspective.
type MapNode struct {
	ID        int64  `json:"id"`
	TopicName string `json:"-"`
	Name      string `json:"name"`
	Title     string `json:"title"`
}

// UserStore provides account lookups for the auth service.
type UserStore interface {
	CreateUser(ctx context.Context, username, nickname, passwordHash, role string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// MapStore supplies topic routing metadata for moderator assignments.
type MapStore interface {
	MapNodesForTopic(ctx context.Context, topicName string) ([]MapNode, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	MapStore
	Close() error
}
