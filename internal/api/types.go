package api

import (
	"time"

	"github.com/leafsii/leafsii-dsc/internal/engine"
)

// Amounts in requests are human decimal strings ("100.5") in the asset's own
// units. Responses carry the raw integer alongside a formatted value.

type DepositAndMintRequest struct {
	User             string `json:"user"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateral_amount"`
	MintAmount       string `json:"mint_amount"`
}

type RedeemRequest struct {
	User             string `json:"user"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateral_amount"`
	BurnAmount       string `json:"burn_amount"`
}

type LiquidateRequest struct {
	Liquidator string `json:"liquidator"`
	User       string `json:"user"`
}

// CollateralRequest serves deposit and withdraw.
type CollateralRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// StableRequest serves mint and burn.
type StableRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type AmountDTO struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

type HealthFactorDTO struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
	Healthy   bool   `json:"healthy"`
}

type ReceiptDTO struct {
	OperationID  string          `json:"operation_id"`
	User         string          `json:"user"`
	HealthFactor HealthFactorDTO `json:"health_factor"`
}

type LiquidationDTO struct {
	OperationID  string               `json:"operation_id"`
	User         string               `json:"user"`
	Liquidator   string               `json:"liquidator"`
	DebtRepaid   AmountDTO            `json:"debt_repaid"`
	BadDebt      AmountDTO            `json:"bad_debt"`
	Seized       map[string]AmountDTO `json:"seized"`
	Reserved     map[string]AmountDTO `json:"reserved,omitempty"`
	HealthBefore HealthFactorDTO      `json:"health_before"`
	HealthAfter  HealthFactorDTO      `json:"health_after"`
}

type CollateralBalanceDTO struct {
	User    string    `json:"user"`
	Asset   string    `json:"asset"`
	Symbol  string    `json:"symbol"`
	Balance AmountDTO `json:"balance"`
	USD     AmountDTO `json:"usd_value"`
}

type AccountDTO struct {
	User          string                 `json:"user"`
	CollateralUSD AmountDTO              `json:"collateral_usd"`
	Debt          AmountDTO              `json:"debt"`
	HealthFactor  HealthFactorDTO        `json:"health_factor"`
	Collateral    []CollateralBalanceDTO `json:"collateral"`
	AsOf          int64                  `json:"asOf"`
}

type AssetDTO struct {
	Asset     string `json:"asset"`
	Symbol    string `json:"symbol"`
	PriceFeed string `json:"price_feed"`
	Decimals  uint8  `json:"decimals"`
}

type PriceDTO struct {
	Asset     string     `json:"asset"`
	Symbol    string    `json:"symbol"`
	Price     AmountDTO `json:"price"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Stale     bool      `json:"stale"`
	Source    string    `json:"source"`
}

type ParamsDTO struct {
	engine.Params
	MinHealthFactor string `json:"min_health_factor"`
	CloseFactorPct  uint64 `json:"close_factor_pct"`
	EngineAddress   string `json:"engine_address"`
}

type CustodyDTO struct {
	Assets  []CustodyAssetDTO `json:"assets"`
	BadDebt AmountDTO         `json:"bad_debt"`
	Users   int               `json:"users"`
}

type CustodyAssetDTO struct {
	Asset   string    `json:"asset"`
	Symbol  string    `json:"symbol"`
	Balance AmountDTO `json:"balance"`
	Reserve AmountDTO `json:"reserve"`
}

type EventsPage struct {
	Events     []engine.EventRecord `json:"events"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type FaucetRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type ApproveRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type SetPriceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type ReadinessDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthDTO struct {
	User         string          `json:"user"`
	HealthFactor HealthFactorDTO `json:"health_factor"`
}

type DevTokenDTO struct {
	User      string     `json:"user"`
	Asset     string     `json:"asset"`
	Balance   AmountDTO  `json:"balance"`
	Spender   string     `json:"spender,omitempty"`
	Allowance *AmountDTO `json:"allowance,omitempty"`
}
