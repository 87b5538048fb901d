package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/engine"
	memkv "github.com/leafsii/leafsii-dsc/pkg/kv/memory"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func depositEvent(user common.Address, amount uint64) engine.Event {
	return engine.Event{
		ID:         uuid.New(),
		Type:       engine.EventDeposit,
		User:       user,
		Asset:      weth,
		Collateral: uint256.NewInt(amount),
		Timestamp:  time.Now(),
	}
}

func appendAll(t *testing.T, store EventStore, events ...engine.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, store.Append(context.Background(), ev))
	}
}

// runEventStoreTests checks paging behaviour shared by every EventStore.
func runEventStoreTests(t *testing.T, store EventStore) {
	ctx := context.Background()

	var events []engine.Event
	for i := uint64(1); i <= 5; i++ {
		events = append(events, depositEvent(alice, i))
	}
	appendAll(t, store, events...)

	liq := engine.Event{
		ID:         uuid.New(),
		Type:       engine.EventLiquidation,
		User:       alice,
		Liquidator: bob,
		Stable:     uint256.NewInt(7),
		Seized:     map[common.Address]*uint256.Int{weth: uint256.NewInt(3)},
		Timestamp:  time.Now(),
	}
	appendAll(t, store, liq)

	page, cursor, err := store.GetUserEvents(ctx, alice, 4, "")
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, liq.ID.String(), page[0].ID)
	assert.Equal(t, "3", page[0].Seized[weth.Hex()])
	assert.Equal(t, "5", page[1].Collateral)
	assert.Equal(t, "3", page[3].Collateral)
	require.NotEmpty(t, cursor)

	page, cursor, err = store.GetUserEvents(ctx, alice, 4, cursor)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "2", page[0].Collateral)
	assert.Equal(t, "1", page[1].Collateral)
	assert.Empty(t, cursor)

	page, _, err = store.GetUserEvents(ctx, bob, 10, "")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, engine.EventLiquidation, page[0].Type)

	_, _, err = store.GetUserEvents(ctx, alice, 10, "not-a-cursor")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	assert.NoError(t, store.Ping(ctx))
}

func TestKVJournal(t *testing.T) {
	store := memkv.New(0)
	defer store.Close()

	runEventStoreTests(t, NewKVJournal(store, 0, nil))
}

func TestKVJournalRetention(t *testing.T) {
	store := memkv.New(0)
	defer store.Close()
	journal := NewKVJournal(store, 3, nil)

	for i := uint64(1); i <= 5; i++ {
		appendAll(t, journal, depositEvent(alice, i))
	}

	page, cursor, err := journal.GetUserEvents(context.Background(), alice, 10, "")
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "5", page[0].Collateral)
	assert.Equal(t, "3", page[2].Collateral)
	assert.Empty(t, cursor)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxPageSize, clampLimit(MaxPageSize+1))
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("LFS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LFS_TEST_POSTGRES_DSN not set, skipping Postgres tests")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "../../sql"))
	_, err = db.Exec("TRUNCATE events")
	require.NoError(t, err)

	repo := NewRepository(db, nil)
	runEventStoreTests(t, repo)

	dup := depositEvent(alice, 9)
	appendAll(t, repo, dup, dup)
	page, _, err := repo.GetUserEvents(context.Background(), alice, 1, "")
	require.NoError(t, err)
	assert.Equal(t, dup.ID.String(), page[0].ID)
}
