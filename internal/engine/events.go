package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type EventType string

const (
	EventDeposit         EventType = "deposit"
	EventDepositAndMint  EventType = "deposit_and_mint"
	EventMint            EventType = "mint"
	EventRedeem          EventType = "redeem"
	EventRedeemForStable EventType = "redeem_for_stable"
	EventBurn            EventType = "burn"
	EventLiquidation     EventType = "liquidation"
)

// Event describes one committed operation. Amount fields that do not apply are zero.
type Event struct {
	ID           uuid.UUID                       `json:"id"`
	Type         EventType                       `json:"type"`
	User         common.Address                  `json:"user"`
	Liquidator   common.Address                  `json:"liquidator,omitempty"`
	Asset        common.Address                  `json:"asset,omitempty"`
	Collateral   *uint256.Int                    `json:"collateral"`
	Stable       *uint256.Int                    `json:"stable"`
	BadDebt      *uint256.Int                    `json:"bad_debt"`
	Seized       map[common.Address]*uint256.Int `json:"seized,omitempty"`
	Reserved     map[common.Address]*uint256.Int `json:"reserved,omitempty"`
	HealthFactor *uint256.Int                    `json:"health_factor"`
	Timestamp    time.Time                       `json:"timestamp"`
}

// Journal records committed operations. Append runs while the operation can
// still be rolled back, so an error aborts the operation.
type Journal interface {
	Append(ctx context.Context, ev Event) error
}

// JournalFunc adapts a function to Journal.
type JournalFunc func(ctx context.Context, ev Event) error

func (f JournalFunc) Append(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type nopJournal struct{}

func (nopJournal) Append(context.Context, Event) error { return nil }

type multiJournal []Journal

// MultiJournal appends to every journal in order and stops at the first error.
func MultiJournal(journals ...Journal) Journal {
	flat := make(multiJournal, 0, len(journals))
	for _, j := range journals {
		if j != nil {
			flat = append(flat, j)
		}
	}
	return flat
}

func (m multiJournal) Append(ctx context.Context, ev Event) error {
	for _, j := range m {
		if err := j.Append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// EventRecord is the serialized form of an Event used by journals and streams.
type EventRecord struct {
	ID           string            `json:"id"`
	Type         EventType         `json:"type"`
	User         string            `json:"user"`
	Liquidator   string            `json:"liquidator,omitempty"`
	Asset        string            `json:"asset,omitempty"`
	Collateral   string            `json:"collateral"`
	Stable       string            `json:"stable"`
	BadDebt      string            `json:"bad_debt"`
	Seized       map[string]string `json:"seized,omitempty"`
	Reserved     map[string]string `json:"reserved,omitempty"`
	HealthFactor string            `json:"health_factor"`
	Timestamp    time.Time         `json:"timestamp"`
}

func (ev Event) Record() EventRecord {
	rec := EventRecord{
		ID:           ev.ID.String(),
		Type:         ev.Type,
		User:         ev.User.Hex(),
		Collateral:   decString(ev.Collateral),
		Stable:       decString(ev.Stable),
		BadDebt:      decString(ev.BadDebt),
		HealthFactor: decString(ev.HealthFactor),
		Timestamp:    ev.Timestamp.UTC(),
	}
	if ev.Liquidator != (common.Address{}) {
		rec.Liquidator = ev.Liquidator.Hex()
	}
	if ev.Asset != (common.Address{}) {
		rec.Asset = ev.Asset.Hex()
	}
	rec.Seized = hexAmounts(ev.Seized)
	rec.Reserved = hexAmounts(ev.Reserved)
	return rec
}

func hexAmounts(m map[common.Address]*uint256.Int) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for asset, amount := range m {
		out[asset.Hex()] = amount.Dec()
	}
	return out
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
