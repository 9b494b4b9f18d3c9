// Package rpc provides a JSON-RPC 2.0 server for the Rhinox daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/internal/auth"
	"github.com/rhinox-exchange/rhinox-v2/internal/history"
	"github.com/rhinox-exchange/rhinox-v2/internal/p2p"
	"github.com/rhinox-exchange/rhinox-v2/internal/rates"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/internal/transfer"
	"github.com/rhinox-exchange/rhinox-v2/internal/wallet"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	store    *storage.Storage
	auth     *auth.Service
	wallets  *wallet.Service
	engine   *p2p.Engine
	rates    *rates.Service
	transfer *transfer.Executor
	history  *history.Aggregator
	log      *logging.Logger
	wsHub    *WSHub

	requestTimeout time.Duration

	server   *http.Server
	listener net.Listener

	handlers map[string]handlerEntry
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler. Authenticated methods receive
// the resolved principal; public methods receive nil.
type Handler func(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error)

type handlerEntry struct {
	fn     Handler
	public bool
}

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Domain error codes mirror the HTTP dispositions of the error kinds.
const (
	CodeUnauthenticated       = 401
	CodeForbidden             = 403
	CodeNotFound              = 404
	CodeInvalidInput          = 400
	CodeInvalidTransition     = 400
	CodeInsufficientFunds     = 400
	CodePaymentMethodMismatch = 400
	CodeRateUnavailable       = 404
	CodeDuplicateKey          = 409
	CodeConflict              = 503
	CodeTimeout               = 504
)

// Config wires the server's dependencies.
type Config struct {
	Store          *storage.Storage
	Auth           *auth.Service
	Wallets        *wallet.Service
	Engine         *p2p.Engine
	Rates          *rates.Service
	Transfer       *transfer.Executor
	History        *history.Aggregator
	RequestTimeout time.Duration
}

// NewServer creates a new JSON-RPC server.
func NewServer(cfg *Config) *Server {
	s := &Server{
		store:          cfg.Store,
		auth:           cfg.Auth,
		wallets:        cfg.Wallets,
		engine:         cfg.Engine,
		rates:          cfg.Rates,
		transfer:       cfg.Transfer,
		history:        cfg.History,
		requestTimeout: cfg.RequestTimeout,
		log:            logging.GetDefault().Component("rpc"),
		handlers:       make(map[string]handlerEntry),
	}
	if s.requestTimeout == 0 {
		s.requestTimeout = 30 * time.Second
	}

	s.registerHandlers()
	return s
}

func (s *Server) handle(method string, fn Handler) {
	s.handlers[method] = handlerEntry{fn: fn}
}

func (s *Server) handlePublic(method string, fn Handler) {
	s.handlers[method] = handlerEntry{fn: fn, public: true}
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Wallet methods
	s.handle("wallet_create", s.walletCreate)
	s.handle("wallet_list", s.walletList)
	s.handle("wallet_getBalances", s.walletGetBalances)
	s.handle("wallet_transfer", s.walletTransfer)

	// P2P ad methods (vendor)
	s.handle("ads_create", s.adsCreate)
	s.handle("ads_listMine", s.adsListMine)
	s.handle("ads_update", s.adsUpdate)
	s.handle("ads_updateStatus", s.adsUpdateStatus)

	// P2P public methods
	s.handlePublic("ads_browse", s.adsBrowse)
	s.handlePublic("ads_get", s.adsGet)
	s.handle("ads_matchingPaymentMethods", s.adsMatchingPaymentMethods)

	// P2P order methods
	s.handle("orders_create", s.ordersCreate)
	s.handle("orders_list", s.ordersList)
	s.handle("orders_get", s.ordersGet)
	s.handle("orders_accept", s.ordersAccept)
	s.handle("orders_decline", s.ordersDecline)
	s.handle("orders_confirmPayment", s.ordersConfirmPayment)
	s.handle("orders_markPaymentReceived", s.ordersMarkPaymentReceived)
	s.handle("orders_cancel", s.ordersCancel)
	s.handle("orders_dispute", s.ordersDispute)
	s.handle("orders_profile", s.ordersProfile)

	// Exchange methods
	s.handlePublic("exchange_getRate", s.exchangeGetRate)
	s.handlePublic("exchange_listRates", s.exchangeListRates)
	s.handlePublic("exchange_listRatesFromBase", s.exchangeListRatesFromBase)
	s.handle("exchange_convert", s.exchangeConvert)
	s.handle("exchange_setRate", s.exchangeSetRate)

	// History methods
	s.handle("history_get", s.historyGet)
	s.handle("history_listByType", s.historyListByType)
	s.handle("history_getTransaction", s.historyGetTransaction)
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.wsHub = NewWSHub()
	go s.wsHub.Run()

	// Push order events to websocket subscribers.
	s.engine.OnEvent(func(event p2p.OrderEvent) {
		s.wsHub.Broadcast(&WSEvent{
			Type:      EventType(event.EventType),
			Data:      map[string]interface{}{"order_id": event.OrderID, "status": event.Status},
			Timestamp: event.Timestamp.Unix(),
		})
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("GET /ws", s.handleWS)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC serves one JSON-RPC request.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, &Response{
			JSONRPC: "2.0",
			Error:   &Error{Code: ParseError, Message: "parse error"},
		})
		return
	}

	s.mu.RLock()
	entry, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		s.writeResponse(w, &Response{
			JSONRPC: "2.0",
			Error:   &Error{Code: MethodNotFound, Message: "method not found: " + req.Method},
			ID:      req.ID,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	var principal *auth.Principal
	if !entry.public {
		token := bearerToken(r)
		p, err := s.auth.Authenticate(ctx, token)
		if err != nil {
			s.writeResponse(w, &Response{
				JSONRPC: "2.0",
				Error:   s.toRPCError(err),
				ID:      req.ID,
			})
			return
		}
		principal = p
	}

	result, err := entry.fn(ctx, principal, req.Params)
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = s.toRPCError(err)
	} else {
		resp.Result = result
	}
	s.writeResponse(w, resp)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

// bearerToken extracts the Authorization bearer token.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// toRPCError maps error kinds to wire codes. Unrecognized errors are
// internal: logged with context, surfaced without detail.
func (s *Server) toRPCError(err error) *Error {
	switch {
	case errors.Is(err, errs.ErrUnauthenticated):
		return &Error{Code: CodeUnauthenticated, Message: err.Error()}
	case errors.Is(err, errs.ErrForbidden):
		return &Error{Code: CodeForbidden, Message: err.Error()}
	case errors.Is(err, errs.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, errs.ErrInvalidInput),
		errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrInsufficientFunds),
		errors.Is(err, errs.ErrPaymentMethodMismatch):
		return &Error{Code: CodeInvalidInput, Message: err.Error()}
	case errors.Is(err, errs.ErrRateUnavailable):
		return &Error{Code: CodeRateUnavailable, Message: err.Error()}
	case errors.Is(err, errs.ErrDuplicateKey):
		return &Error{Code: CodeDuplicateKey, Message: err.Error()}
	case errors.Is(err, errs.ErrConflict):
		return &Error{Code: CodeConflict, Message: "please retry"}
	case errors.Is(err, errs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: "request timed out"}
	default:
		s.log.Error("internal error", "error", err)
		return &Error{Code: InternalError, Message: "internal error"}
	}
}
