package jobs

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/metrics"
	"github.com/leafsii/leafsii-dsc/internal/store"
	"go.uber.org/zap"
)

// KeyLiquidationCandidates caches the result of the latest scan.
const KeyLiquidationCandidates = "dsc:liquidation:candidates"

// AccountReader is the read-only slice of the engine the scanner needs.
type AccountReader interface {
	Users() []common.Address
	AccountInfo(ctx context.Context, user common.Address) (collateralUSD, debt *uint256.Int, err error)
	HealthFactor(ctx context.Context, user common.Address) (*uint256.Int, error)
}

// Candidate is an account a liquidator could act on.
type Candidate struct {
	User          string `json:"user"`
	HealthFactor  string `json:"health_factor"`
	CollateralUSD string `json:"collateral_usd"`
	Debt          string `json:"debt"`
}

// ScanReport is the cached outcome of one pass.
type ScanReport struct {
	ScannedAt  time.Time   `json:"scanned_at"`
	Accounts   int         `json:"accounts"`
	Candidates []Candidate `json:"candidates"`
}

// LiquidationScanner reports accounts whose health factor fell below the
// minimum. It never liquidates on its own.
type LiquidationScanner struct {
	reader   AccountReader
	cache    *store.Cache
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	interval time.Duration
}

func NewLiquidationScanner(reader AccountReader, cache *store.Cache, m *metrics.Metrics, logger *zap.SugaredLogger, interval time.Duration) *LiquidationScanner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LiquidationScanner{
		reader:   reader,
		cache:    cache,
		metrics:  m,
		logger:   logger,
		interval: interval,
	}
}

func (s *LiquidationScanner) Start(ctx context.Context) error {
	s.logger.Infow("Starting liquidation scanner", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("Liquidation scanner stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan checks every known account once. Accounts whose price cannot be read
// are skipped and logged.
func (s *LiquidationScanner) Scan(ctx context.Context) ScanReport {
	users := s.reader.Users()
	report := ScanReport{ScannedAt: time.Now().UTC(), Accounts: len(users), Candidates: []Candidate{}}

	type scored struct {
		candidate Candidate
		hf        *uint256.Int
	}
	var found []scored

	for _, user := range users {
		hf, err := s.reader.HealthFactor(ctx, user)
		if err != nil {
			s.logger.Warnw("Health factor unavailable", "user", user.Hex(), "error", err)
			continue
		}
		if calc.IsHealthy(hf) {
			continue
		}
		collateralUSD, debt, err := s.reader.AccountInfo(ctx, user)
		if err != nil {
			s.logger.Warnw("Account info unavailable", "user", user.Hex(), "error", err)
			continue
		}
		found = append(found, scored{
			candidate: Candidate{
				User:          user.Hex(),
				HealthFactor:  hf.Dec(),
				CollateralUSD: collateralUSD.Dec(),
				Debt:          debt.Dec(),
			},
			hf: hf,
		})
	}

	// Worst first
	sort.SliceStable(found, func(i, j int) bool { return found[i].hf.Lt(found[j].hf) })
	for _, f := range found {
		report.Candidates = append(report.Candidates, f.candidate)
	}

	if s.metrics != nil {
		s.metrics.SetUnhealthyAccounts(len(report.Candidates))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, KeyLiquidationCandidates, report, 2*s.interval); err != nil {
			s.logger.Warnw("Failed to cache scan report", "error", err)
		}
	}
	if len(report.Candidates) > 0 {
		s.logger.Infow("Liquidatable accounts found", "count", len(report.Candidates), "accounts", report.Accounts)
	}
	return report
}
