package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/snapshot/domain"
)

// Repository is the append-only snapshot log. It is the only writer of snapshots.
type Repository interface {
	// Append normalizes username, stamps RecordedAt with the store clock and appends one snapshot atomically.
	// RecordedAt never precedes the username's previous snapshot; ID breaks ties in insertion order.
	Append(ctx context.Context, username string, m domain.Metrics) (*domain.Snapshot, error)
	// History returns the username's snapshots recorded within since of now, oldest first.
	// since <= 0 returns the whole log. Unknown usernames yield an empty slice.
	History(ctx context.Context, username string, since time.Duration) ([]*domain.Snapshot, error)
	// ListTrackedUsernames returns every username with at least one snapshot, sorted.
	ListTrackedUsernames(ctx context.Context) ([]string, error)
}

// NewIDNode returns the snowflake node used to mint snapshot IDs. node must be unique per writer process.
func NewIDNode(node int64) (*snowflake.Node, error) {
	return snowflake.NewNode(node)
}

// prepareAppend normalizes and validates the inputs of Append.
func prepareAppend(raw string, m domain.Metrics) (string, error) {
	username := domain.NormalizeUsername(raw)
	if err := domain.ValidateUsername(username); err != nil {
		return "", failure.InvalidInput("append", username, "%w", err)
	}
	if err := m.Validate(); err != nil {
		return "", failure.InvalidInput("append", username, "%w", err)
	}
	return username, nil
}

// prepareRead normalizes and validates the username of a read.
func prepareRead(raw string) (string, error) {
	username := domain.NormalizeUsername(raw)
	if err := domain.ValidateUsername(username); err != nil {
		return "", failure.InvalidInput("history", username, "%w", err)
	}
	return username, nil
}
