package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"ludo/internal/engine"
	"ludo/internal/game"
	"ludo/internal/session"
	"ludo/internal/storage"
)

// Wallets answers ledger queries for a player.
type Wallets interface {
	Balance(ctx context.Context, playerID string) (int64, error)
	Transactions(ctx context.Context, playerID string) ([]storage.Transaction, error)
	Stats(ctx context.Context, playerID string) (storage.PlayerStats, error)
}

// Archive reads concluded matches back from long-term storage.
type Archive interface {
	Load(ctx context.Context, matchID string) (*game.Match, error)
}

// Options wires a Server. Engine and Mirrors are required.
type Options struct {
	Engine  *engine.Service
	Mirrors *session.Registry
	Wallets Wallets // nil disables /api/players
	Archive Archive // nil disables /api/archive
	Origins []string
}

// Server is the HTTP server.
type Server struct {
	router  *mux.Router
	handler http.Handler
	engine  *engine.Service
	mirrors *session.Registry
	wallets Wallets
	archive Archive
	origins []string
}

// New creates a server with all routes.
func New(opts Options) *Server {
	origins := opts.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		router:  mux.NewRouter(),
		engine:  opts.Engine,
		mirrors: opts.Mirrors,
		wallets: opts.Wallets,
		archive: opts.Archive,
		origins: origins,
	}
	s.routes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.router)
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tiers", s.handleListTiers).Methods(http.MethodGet)
	api.HandleFunc("/mirrors", s.handleListMirrors).Methods(http.MethodGet)
	api.HandleFunc("/matches", s.handleCreateMatch).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}", s.handleGetMatch).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}/start", s.handleStartMatch).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/roll", s.handleRoll).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/move", s.handleMove).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/pass", s.handlePass).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/timer", s.handleTimer).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/mirror", s.handleGetMirror).Methods(http.MethodGet)
	api.HandleFunc("/matches/{id}/ws", s.handleWebSocket).Methods(http.MethodGet)
	if s.wallets != nil {
		api.HandleFunc("/players/{id}/wallet", s.handleWallet).Methods(http.MethodGet)
	}
	if s.archive != nil {
		api.HandleFunc("/archive/{id}", s.handleArchived).Methods(http.MethodGet)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Tiers())
}

type createMatchRequest struct {
	Tier      string   `json:"tier"`
	PlayerIDs []string `json:"playerIds"`
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	req.Tier = strings.TrimSpace(req.Tier)
	if req.Tier == "" || len(req.PlayerIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "tier and playerIds required"})
		return
	}
	m, err := s.engine.CreateMatch(r.Context(), req.Tier, req.PlayerIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// actionRequest is the body of every turn call. The caller names itself;
// authentication happens in front of this server.
type actionRequest struct {
	PlayerID string `json:"playerId"`
	TokenID  int    `json:"tokenId"`
	DiceRoll int    `json:"diceRoll"`
}

func decodeAction(w http.ResponseWriter, r *http.Request) (actionRequest, bool) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return req, false
	}
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	if req.PlayerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "playerId required"})
		return req, false
	}
	return req, true
}

func (s *Server) handleStartMatch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	m, err := s.engine.StartMatch(r.Context(), mux.Vars(r)["id"], req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type rollResponse struct {
	DiceRoll int `json:"diceRoll"`
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	v, err := s.engine.RollDice(r.Context(), mux.Vars(r)["id"], req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollResponse{DiceRoll: v})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	res, err := s.engine.MoveToken(r.Context(), mux.Vars(r)["id"], req.PlayerID, req.TokenID, req.DiceRoll)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePass(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if err := s.engine.ConsumeRoll(r.Context(), mux.Vars(r)["id"], req.PlayerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "passed"})
}

func (s *Server) handleTimer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	m, err := s.engine.CheckMatchTimer(r.Context(), mux.Vars(r)["id"], req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetMirror(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.mirrors.Get(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "mirror not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleListMirrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mirrors.List())
}

type walletResponse struct {
	PlayerID     string                `json:"playerId"`
	Balance      int64                 `json:"balance"`
	Stats        storage.PlayerStats   `json:"stats"`
	Transactions []storage.Transaction `json:"transactions"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := walletResponse{PlayerID: mux.Vars(r)["id"]}
	var err error
	if resp.Balance, err = s.wallets.Balance(ctx, resp.PlayerID); err != nil {
		writeError(w, game.WrapStore("balance", err))
		return
	}
	if resp.Stats, err = s.wallets.Stats(ctx, resp.PlayerID); err != nil {
		writeError(w, game.WrapStore("stats", err))
		return
	}
	if resp.Transactions, err = s.wallets.Transactions(ctx, resp.PlayerID); err != nil {
		writeError(w, game.WrapStore("transactions", err))
		return
	}
	if resp.Transactions == nil {
		resp.Transactions = []storage.Transaction{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArchived(w http.ResponseWriter, r *http.Request) {
	m, err := s.archive.Load(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, game.WrapStore("archive", err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps the engine's error taxonomy onto HTTP.
func statusFor(err error) int {
	var se *game.StoreError
	switch {
	case errors.Is(err, game.ErrMatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotYourTurn), errors.Is(err, game.ErrUnknownPlayer):
		return http.StatusForbidden
	case errors.Is(err, game.ErrConcurrentModification),
		errors.Is(err, game.ErrMatchNotInProgress),
		errors.Is(err, game.ErrMatchNotWaiting),
		errors.Is(err, game.ErrRollPending):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidMove),
		errors.Is(err, game.ErrInvalidPass),
		errors.Is(err, game.ErrTokenNotFound),
		errors.Is(err, game.ErrInvalidMatch):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Retryable: game.Retryable(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
