package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		// Live updates hold the connection open, so they skip the timeout and gzip writers.
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(15 * time.Second))

			// JSON-RPC endpoint
			r.Post("/jsonrpc", h.HandleJSONRPC)

			// Position commands
			r.Route("/positions", func(r chi.Router) {
				r.Post("/deposit-and-mint", h.DepositAndMint)
				r.Post("/redeem", h.RedeemForStable)
				r.Post("/liquidate", h.Liquidate)
				r.Post("/deposit", h.DepositCollateral)
				r.Post("/mint", h.MintStable)
				r.Post("/withdraw", h.RedeemCollateral)
				r.Post("/burn", h.BurnStable)
			})

			// User portfolio
			r.Route("/users/{address}", func(r chi.Router) {
				r.Get("/collateral/{asset}", h.GetCollateralBalance)
				r.Get("/account", h.GetAccount)
				r.Get("/health", h.GetHealthFactor)
				r.Get("/events", h.GetUserEvents)
			})

			// Collateral assets and prices
			r.Get("/assets", h.ListAssets)
			r.Get("/assets/{asset}/price", h.GetAssetPrice)

			// Protocol state
			r.Route("/protocol", func(r chi.Router) {
				r.Get("/params", h.GetParams)
				r.Get("/custody", h.GetCustody)
			})

			r.Get("/liquidations/candidates", h.GetLiquidationCandidates)

			if h.dev != nil {
				r.Route("/dev", func(r chi.Router) {
					r.Post("/faucet", h.Faucet)
					r.Post("/approve", h.Approve)
					r.Post("/price", h.SetPrice)
				})
			}
		})
	})

	return r
}
