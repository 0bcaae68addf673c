// Package store provides message history persistence for the relay.
package store

import (
	"context"
	"time"

	"github.com/ashureev/wardline/internal/domain"
)

// Repository defines the interface for persisting chat messages.
type Repository interface {
	// InsertMessage stores a message. ID and CreatedAt must be set.
	InsertMessage(ctx context.Context, m *domain.Message) error

	// ListMessages returns up to limit messages addressed to
	// departmentID, newest first.
	ListMessages(ctx context.Context, departmentID domain.ID, limit int) ([]*domain.Message, error)

	// DeleteOlderThan removes messages created before cutoff and returns
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
