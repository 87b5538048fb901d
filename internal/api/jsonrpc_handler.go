package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type rpcMethod func(ctx context.Context, params json.RawMessage) (interface{}, error)

func (h *Handler) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"depositAndMint": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p DepositAndMintRequest
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			return h.depositAndMint(ctx, p)
		},
		"redeemForStable": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p RedeemRequest
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			return h.redeemForStable(ctx, p)
		},
		"liquidate": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p LiquidateRequest
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			return h.liquidate(ctx, p)
		},
		"getAccountInfo": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p GetAccountInfoParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			user, err := parseAddress("user", p.User)
			if err != nil {
				return nil, err
			}
			return h.account(ctx, user)
		},
		"getCollateralBalance": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p GetCollateralBalanceParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			user, err := parseAddress("user", p.User)
			if err != nil {
				return nil, err
			}
			asset, err := parseAddress("asset", p.Asset)
			if err != nil {
				return nil, err
			}
			return h.collateralBalance(ctx, user, asset)
		},
	}
}

// HandleJSONRPC handles JSON-RPC 2.0 requests
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	// Parse JSON-RPC request
	var req JSONRPCRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.sendJSONRPCError(w, r, nil, JSONRPCParseError, "Parse error", err.Error())
		return
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, r, req.ID, JSONRPCInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
		return
	}

	method, ok := h.rpcMethods()[req.Method]
	if !ok {
		h.sendJSONRPCError(w, r, req.ID, JSONRPCMethodNotFound, "Method not found", fmt.Sprintf("Method '%s' not found", req.Method))
		return
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		code, status := classify(err)
		data := JSONRPCErrorData{Code: code, Detail: err.Error()}

		var reqErr *requestError
		if errors.As(err, &reqErr) {
			h.sendJSONRPCError(w, r, req.ID, JSONRPCInvalidParams, "Invalid params", data)
			return
		}
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			h.logger.Errorw("JSON-RPC method failed",
				"request_id", middleware.GetReqID(r.Context()),
				"method", req.Method,
				"error", err,
			)
		}
		h.sendJSONRPCError(w, r, req.ID, rpcCode(code), code, data)
		return
	}

	h.writeJSON(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	})
}

func decodeParams(params json.RawMessage, dest interface{}) error {
	if len(params) == 0 {
		return badRequest("INVALID_REQUEST", "params are required")
	}
	if err := json.Unmarshal(params, dest); err != nil {
		return badRequest("INVALID_REQUEST", "params must be an object: %v", err)
	}
	return nil
}

func (h *Handler) sendJSONRPCError(w http.ResponseWriter, r *http.Request, id interface{}, code int, message string, data interface{}) {
	// JSON-RPC errors are sent with HTTP 200
	h.writeJSON(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
