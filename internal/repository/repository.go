package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/leafsii-dsc/internal/engine"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

var ErrInvalidCursor = errors.New("invalid cursor")

// EventStore is a durable engine.Journal that can be read back per account.
type EventStore interface {
	engine.Journal
	GetUserEvents(ctx context.Context, user common.Address, limit int, cursor string) ([]engine.EventRecord, string, error)
	Ping(ctx context.Context) error
}

// Repository persists engine events in Postgres.
type Repository struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

var _ EventStore = (*Repository)(nil)

func NewRepository(db *sql.DB, logger *zap.SugaredLogger) *Repository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Append stores ev. Replaying an event id is a no-op.
func (r *Repository) Append(ctx context.Context, ev engine.Event) error {
	rec := ev.Record()
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	query := `
		INSERT INTO events (id, ts, type, user_address, liquidator, asset, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Timestamp,
		string(rec.Type),
		rec.User,
		nullable(rec.Liquidator),
		nullable(rec.Asset),
		recordJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}

	r.logger.Debugw("Stored event", "event_id", rec.ID, "type", rec.Type, "user", rec.User)
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetUserEvents returns the newest events where user is the account or the
// liquidator. cursor is the opaque value returned by the previous page.
func (r *Repository) GetUserEvents(ctx context.Context, user common.Address, limit int, cursor string) ([]engine.EventRecord, string, error) {
	limit = clampLimit(limit)

	var beforeSeq int64 = 1<<63 - 1
	if cursor != "" {
		seq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || seq <= 0 {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		beforeSeq = seq
	}

	query := `
		SELECT seq, record
		FROM events
		WHERE (user_address = $1 OR liquidator = $1)
		AND seq < $2
		ORDER BY seq DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, user.Hex(), beforeSeq, limit+1) // +1 to check if there are more
	if err != nil {
		return nil, "", fmt.Errorf("failed to query user events: %w", err)
	}
	defer rows.Close()

	var (
		events  []engine.EventRecord
		lastSeq int64
		hasMore bool
	)

	for rows.Next() {
		if len(events) >= limit {
			hasMore = true
			break
		}

		var (
			seq        int64
			recordJSON []byte
			rec        engine.EventRecord
		)
		if err := rows.Scan(&seq, &recordJSON); err != nil {
			return nil, "", fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal event: %w", err)
		}

		events = append(events, rec)
		lastSeq = seq
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("row iteration error: %w", err)
	}

	var nextCursor string
	if hasMore {
		nextCursor = strconv.FormatInt(lastSeq, 10)
	}

	return events, nextCursor, nil
}

// Health check
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
