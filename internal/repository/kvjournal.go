package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/leafsii-dsc/internal/engine"
	"github.com/leafsii/leafsii-dsc/pkg/kv"
	"go.uber.org/zap"
)

const (
	keyJournal = "dsc:journal"
	// DefaultRetention is how many events KVJournal keeps per account
	DefaultRetention = 1000
)

// KVJournal keeps a bounded per-account event history in a kv.Store. It is
// used when no Postgres DSN is configured.
type KVJournal struct {
	store     kv.Store
	retention int64
	logger    *zap.SugaredLogger
}

var _ EventStore = (*KVJournal)(nil)

func NewKVJournal(store kv.Store, retention int, logger *zap.SugaredLogger) *KVJournal {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KVJournal{store: store, retention: int64(retention), logger: logger}
}

func journalKey(user common.Address) string {
	return fmt.Sprintf("%s:%s", keyJournal, user.Hex())
}

func (j *KVJournal) Append(ctx context.Context, ev engine.Event) error {
	rec := ev.Record()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	users := []common.Address{ev.User}
	if ev.Liquidator != (common.Address{}) && ev.Liquidator != ev.User {
		users = append(users, ev.Liquidator)
	}

	for _, user := range users {
		key := journalKey(user)
		if _, err := j.store.RPush(ctx, key, data); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
		if err := j.store.LTrim(ctx, key, -j.retention, -1); err != nil {
			return fmt.Errorf("failed to trim journal: %w", err)
		}
	}
	return nil
}

// GetUserEvents pages from newest to oldest. The cursor counts events
// already returned.
func (j *KVJournal) GetUserEvents(ctx context.Context, user common.Address, limit int, cursor string) ([]engine.EventRecord, string, error) {
	limit = clampLimit(limit)

	var offset int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		offset = n
	}

	// Newest entries sit at the tail; fetch one extra to detect another page.
	stop := -1 - offset
	start := stop - int64(limit)
	values, err := j.store.LRange(ctx, journalKey(user), start, stop)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read journal: %w", err)
	}

	hasMore := len(values) > limit
	if hasMore {
		values = values[1:]
	}

	events := make([]engine.EventRecord, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var rec engine.EventRecord
		if err := json.Unmarshal(values[i], &rec); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, rec)
	}

	var nextCursor string
	if hasMore {
		nextCursor = strconv.FormatInt(offset+int64(len(events)), 10)
	}
	return events, nextCursor, nil
}

func (j *KVJournal) Ping(ctx context.Context) error {
	return j.store.Ping(ctx)
}
