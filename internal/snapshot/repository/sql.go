package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"growth-tracker/backend/internal/failure"
	"growth-tracker/backend/internal/snapshot/domain"
)

// Dialect holds what differs between the SQL backends.
type Dialect struct {
	Name string
	// numbered reports whether placeholders are $1..$n instead of ?.
	numbered bool
	// lockSuffix is appended to the tracked-row read inside the append transaction.
	lockSuffix string
}

var (
	// Postgres locks the username's index row so appends to one username serialize.
	Postgres = Dialect{Name: "postgres", numbered: true, lockSuffix: " FOR UPDATE"}
	// SQLite relies on the single-writer connection opened by db.OpenSQLite.
	SQLite = Dialect{Name: "sqlite"}
)

const (
	ensureTrackedSQL = `INSERT INTO tracked_usernames (username, first_seen_at, last_seen_at)
		VALUES (?, ?, ?) ON CONFLICT (username) DO NOTHING`

	lockTrackedSQL = `SELECT last_seen_at FROM tracked_usernames WHERE username = ?`

	touchTrackedSQL = `UPDATE tracked_usernames SET last_seen_at = ? WHERE username = ?`

	insertSnapshotSQL = `INSERT INTO account_snapshots
		(id, username, follower_count, following_count, media_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	historySinceSQL = `SELECT id, username, follower_count, following_count, media_count, recorded_at
		FROM account_snapshots WHERE username = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC, id ASC`

	historyAllSQL = `SELECT id, username, follower_count, following_count, media_count, recorded_at
		FROM account_snapshots WHERE username = ?
		ORDER BY recorded_at ASC, id ASC`

	listTrackedSQL = `SELECT username FROM tracked_usernames ORDER BY username`
)

// SQLRepository is a Repository over database/sql. Schema lives in internal/db/migrations.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	ids     *snowflake.Node
	nowF    func() time.Time
}

// NewSQLRepository returns a snapshot repository that persists through db using dialect.
func NewSQLRepository(db *sql.DB, dialect Dialect, ids *snowflake.Node) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect, ids: ids, nowF: time.Now}
}

// WithClock replaces the store clock. Intended for tests.
func (r *SQLRepository) WithClock(nowF func() time.Time) *SQLRepository {
	r.nowF = nowF
	return r
}

// Append inserts the snapshot and maintains the tracked-username index in one transaction.
func (r *SQLRepository) Append(ctx context.Context, username string, m domain.Metrics) (*domain.Snapshot, error) {
	username, err := prepareAppend(username, m)
	if err != nil {
		return nil, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, failure.Storage("append", username, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.nowF().UTC()
	if _, err := tx.ExecContext(ctx, r.q(ensureTrackedSQL), username, now, now); err != nil {
		return nil, failure.Storage("append", username, err)
	}
	var last time.Time
	if err := tx.QueryRowContext(ctx, r.q(lockTrackedSQL+r.dialect.lockSuffix), username).Scan(&last); err != nil {
		return nil, failure.Storage("append", username, err)
	}
	recordedAt := now
	if last = last.UTC(); last.After(recordedAt) {
		recordedAt = last
	}
	if _, err := tx.ExecContext(ctx, r.q(touchTrackedSQL), recordedAt, username); err != nil {
		return nil, failure.Storage("append", username, err)
	}
	s := &domain.Snapshot{
		ID:             r.ids.Generate().Int64(),
		Username:       username,
		FollowerCount:  m.FollowerCount,
		FollowingCount: m.FollowingCount,
		MediaCount:     m.MediaCount,
		RecordedAt:     recordedAt,
	}
	if _, err := tx.ExecContext(ctx, r.q(insertSnapshotSQL),
		s.ID, s.Username, s.FollowerCount, s.FollowingCount, s.MediaCount, s.RecordedAt,
	); err != nil {
		return nil, failure.Storage("append", username, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, failure.Storage("append", username, err)
	}
	return s, nil
}

// History returns the username's snapshots recorded at or after now-since, oldest first.
func (r *SQLRepository) History(ctx context.Context, username string, since time.Duration) ([]*domain.Snapshot, error) {
	username, err := prepareRead(username)
	if err != nil {
		return nil, err
	}
	var rows *sql.Rows
	if since > 0 {
		cutoff := r.nowF().UTC().Add(-since)
		rows, err = r.db.QueryContext(ctx, r.q(historySinceSQL), username, cutoff)
	} else {
		rows, err = r.db.QueryContext(ctx, r.q(historyAllSQL), username)
	}
	if err != nil {
		return nil, failure.Storage("history", username, err)
	}
	defer rows.Close()

	out := []*domain.Snapshot{}
	for rows.Next() {
		var s domain.Snapshot
		if err := rows.Scan(&s.ID, &s.Username, &s.FollowerCount, &s.FollowingCount, &s.MediaCount, &s.RecordedAt); err != nil {
			return nil, failure.Storage("history", username, err)
		}
		s.RecordedAt = s.RecordedAt.UTC()
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Storage("history", username, err)
	}
	return out, nil
}

// ListTrackedUsernames reads the tracked_usernames index.
func (r *SQLRepository) ListTrackedUsernames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, listTrackedSQL)
	if err != nil {
		return nil, failure.Storage("list_tracked", "", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, failure.Storage("list_tracked", "", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Storage("list_tracked", "", err)
	}
	return out, nil
}

// q rewrites ? placeholders to $n for dialects that number them.
func (r *SQLRepository) q(query string) string {
	if !r.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
