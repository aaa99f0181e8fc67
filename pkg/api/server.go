// Package api is the caller-facing HTTP surface. Each route maps 1:1 to a
// gateway client or subscription session call; it holds no trading logic of
// its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Gaialynx/toadefi/pkg/storage"
	"github.com/Gaialynx/toadefi/pkg/vertex"
)

// Server handles REST and local WebSocket stream connections.
type Server struct {
	gateway *vertex.GatewayClient
	session *vertex.SubscriptionSession
	journal *storage.Journal
	hub     *Hub
	router  *mux.Router
	log     *zap.Logger

	reconnectPoll time.Duration
	senderHex     string

	superviseOnce sync.Once
}

// NewServer wires the HTTP surface. journal may be nil.
func NewServer(gateway *vertex.GatewayClient, session *vertex.SubscriptionSession, journal *storage.Journal, hub *Hub, reconnectPoll time.Duration, senderHex string, log *zap.Logger) *Server {
	s := &Server{
		gateway:       gateway,
		session:       session,
		journal:       journal,
		hub:           hub,
		router:        mux.NewRouter(),
		log:           log,
		reconnectPoll: reconnectPoll,
		senderHex:     senderHex,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Session lifecycle
	api.HandleFunc("/connect", s.handleConnect).Methods("POST")
	api.HandleFunc("/session", s.handleSession).Methods("GET")

	// Market queries
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/contracts", s.handleContracts).Methods("GET")
	api.HandleFunc("/products", s.handleProducts).Methods("GET")
	api.HandleFunc("/symbols", s.handleSymbols).Methods("GET")

	// Trade execution
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrders).Methods("POST")
	api.HandleFunc("/orders/cancel-product", s.handleCancelProductOrders).Methods("POST")
	api.HandleFunc("/orders/cancel-and-place", s.handleCancelAndPlace).Methods("POST")
	api.HandleFunc("/collateral/withdraw", s.handleWithdrawCollateral).Methods("POST")
	api.HandleFunc("/lp/mint", s.handleMintLp).Methods("POST")
	api.HandleFunc("/lp/burn", s.handleBurnLp).Methods("POST")
	api.HandleFunc("/link-signer", s.handleLinkSigner).Methods("POST")

	// Diagnostics
	api.HandleFunc("/executes", s.handleRecentExecutes).Methods("GET")

	// Local stream fan-out
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and the HTTP listener.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// handleConnect starts the subscription session and, on first success,
// spawns the supervisory loop that polls the reconnect flag.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Start(r.Context()); err != nil {
		s.log.Error("failed to start subscription", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ConnectionResponse{
			Success: false,
			Message: "failed to start subscription: " + err.Error(),
		})
		return
	}

	s.superviseOnce.Do(func() {
		go s.supervise()
	})

	writeJSON(w, http.StatusOK, ConnectionResponse{
		Success: true,
		Message: "connection initiated and subscription started",
	})
}

// supervise polls the session's reconnect flag. The poll interval bounds how
// long a broken session goes unrepaired.
func (s *Server) supervise() {
	ticker := time.NewTicker(s.reconnectPoll)
	defer ticker.Stop()
	for range ticker.C {
		if err := s.session.CheckAndReconnect(context.Background()); err != nil {
			s.log.Error("reconnect attempt failed", zap.Error(err))
		}
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{
		State:          s.session.State().String(),
		NeedsReconnect: s.session.NeedsReconnect(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.gateway.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	resp, err := s.gateway.Contracts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	resp, err := s.gateway.Products(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	resp, err := s.gateway.Symbols(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req vertex.PlaceOrderRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resp, err := s.gateway.PlaceOrder(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelOrders(w http.ResponseWriter, r *http.Request) {
	var req vertex.CancelOrdersRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resp, err := s.gateway.CancelOrders(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelProductOrders(w http.ResponseWriter, r *http.Request) {
	var req vertex.CancelProductOrdersRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resp, err := s.gateway.CancelProductOrders(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelAndPlace(w http.ResponseWriter, r *http.Request) {
	var req vertex.CancelAndPlaceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resp, err := s.gateway.CancelAndPlace(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	var req vertex.WithdrawCollateralRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resp, err := s.gateway.WithdrawCollateral(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMintLp(w http.ResponseWriter, r *http.Request) {
	var req vertex.MintLpRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resp, err := s.gateway.MintLp(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBurnLp(w http.ResponseWriter, r *http.Request) {
	var req vertex.BurnLpRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resp, err := s.gateway.BurnLp(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLinkSigner(w http.ResponseWriter, r *http.Request) {
	var req vertex.LinkSignerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resp, err := s.gateway.LinkSigner(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecentExecutes(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []storage.ExecuteRecord{})
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	records, err := s.journal.RecentExecutes(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if records == nil {
		records = []storage.ExecuteRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Sender: s.senderHex})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps classified connector errors onto HTTP statuses. Decode
// failures keep their raw payload in the server log only.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var protoErr *vertex.ProtocolError
	var signErr *vertex.SigningError
	var connErr *vertex.ConnectionError
	var decodeErr *vertex.DecodeError

	switch {
	case errors.As(err, &protoErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.As(err, &signErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.As(err, &connErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	case errors.As(err, &decodeErr):
		s.log.Error("undecodable gateway response", zap.String("raw", decodeErr.Raw), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
