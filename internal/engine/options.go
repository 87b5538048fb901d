package engine

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"go.uber.org/zap"
)

// Params are the risk parameters shared by every collateral asset.
type Params struct {
	LiquidationThresholdPct uint64 `json:"liquidation_threshold_pct"`
	LiquidationBonusPct     uint64 `json:"liquidation_bonus_pct"`
}

func DefaultParams() Params {
	return Params{
		LiquidationThresholdPct: 50,
		LiquidationBonusPct:     10,
	}
}

func (p Params) MinHealthFactor() *uint256.Int {
	return calc.MinHealthFactor.Clone()
}

func (p Params) Validate() error {
	return calc.ValidateThresholds(p.LiquidationThresholdPct, p.LiquidationBonusPct)
}

// Recorder receives operation outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordOperation(ctx context.Context, op, outcome string, duration time.Duration)
	RecordLiquidation(ctx context.Context, repaid, badDebt *uint256.Int)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordLiquidation(context.Context, *uint256.Int, *uint256.Int)  {}

type Option func(*Engine)

func WithParams(p Params) Option {
	return func(e *Engine) {
		e.params = p
	}
}

func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}
