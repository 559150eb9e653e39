package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/arbiter"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

// Deps is everything the API needs wired in.
type Deps struct {
	Store       store.RequestStore
	Broadcast   *broadcast.Service
	Arbiter     *arbiter.Service
	Machine     *lifecycle.Machine
	Directory   directory.Directory
	Heartbeats  *ingest.HeartbeatProducer // optional; nil sends heartbeats straight to the directory
	WSReg       *fanout.WSRegistry
	OfferWindow time.Duration
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests", s.handleListRequests).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleGetRequest).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/transition", s.handleTransition).Methods("POST")
	s.mux.HandleFunc("/api/v1/providers/heartbeat", s.handleHeartbeat).Methods("POST")
	s.mux.HandleFunc("/ws/{party_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequestBody struct {
	Kind        models.Kind  `json:"kind"`
	RequesterID string       `json:"requester_id"`
	Terms       models.Terms `json:"terms"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, models.ErrInvalidTerms)
		return
	}
	if in.RequesterID == "" || !in.Kind.Valid() {
		s.writeError(w, models.ErrInvalidTerms)
		return
	}
	if err := in.Terms.Validate(in.Kind); err != nil {
		s.writeError(w, err)
		return
	}

	now := time.Now()
	req := &models.Request{
		ID:             uuid.NewString(),
		Kind:           in.Kind,
		RequesterID:    in.RequesterID,
		Status:         models.StatusRequested,
		OfferExpiresAt: now.Add(s.deps.OfferWindow),
		Terms:          in.Terms,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deps.Store.Create(r.Context(), req); err != nil {
		s.writeError(w, err)
		return
	}
	observability.RequestsCreated.WithLabelValues(string(req.Kind)).Inc()

	// broadcast inline; on failure the request stays requested and the
	// sweep picks it up
	if _, err := s.deps.Broadcast.Broadcast(r.Context(), req, false); err != nil {
		s.logger.Warn("initial broadcast failed", "request_id", req.ID, "error", err)
	}
	current, err := s.deps.Store.Get(r.Context(), req.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": current.ID, "status": current.Status})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		ProviderID string `json:"provider_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ProviderID == "" {
		s.writeError(w, models.ErrInvalidTerms)
		return
	}
	updated, err := s.deps.Arbiter.AttemptAccept(r.Context(), id, in.ProviderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": updated.Status, "version": updated.Version})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in struct {
		ActorID string `json:"actor_id"`
		Action  string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ActorID == "" {
		s.writeError(w, models.ErrInvalidTerms)
		return
	}
	action, err := lifecycle.ParseAction(in.Action)
	if err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.deps.Machine.Transition(r.Context(), id, in.ActorID, action)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": updated.Status, "version": updated.Version})
}

// handleGetRequest is the polling fallback for parties without a live
// websocket.
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.deps.Store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	requesterID := r.URL.Query().Get("requester_id")
	if requesterID == "" {
		s.writeError(w, models.ErrInvalidTerms)
		return
	}
	list, err := s.deps.Store.ListByRequester(r.Context(), requesterID, 50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var p models.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.ID == "" {
		s.writeError(w, models.ErrInvalidTerms)
		return
	}
	p.LastSeen = time.Now()
	if s.deps.Heartbeats != nil {
		if err := s.deps.Heartbeats.PublishHeartbeat(p); err != nil {
			s.logger.Warn("heartbeat publish failed", "provider_id", p.ID, "error", err)
			s.writeError(w, models.ErrStoreUnavailable)
			return
		}
	} else if err := s.deps.Directory.Heartbeat(r.Context(), p); err != nil {
		s.writeError(w, models.ErrStoreUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	partyID := mux.Vars(r)["party_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its error response
		s.logger.Warn("ws upgrade failed", "party_id", partyID, "error", err)
		return
	}
	s.deps.WSReg.Add(partyID, conn)
	go func() {
		// drain until close so the registry drops dead sessions; removal
		// is keyed to this connection so a reconnect is never severed
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.deps.WSReg.RemoveConn(partyID, conn)
				_ = conn.Close()
				return
			}
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, reason := classify(err)
	if status >= 500 {
		s.logger.Error("request failed", "reason", reason, "error", err)
	}
	s.writeJSON(w, status, map[string]any{"reason": reason, "error": err.Error()})
}

// classify maps the error taxonomy onto HTTP statuses. Business
// rejections are 409s with an explicit reason so clients can give
// immediate feedback; infrastructure faults are 503 and retryable.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidTerms):
		return http.StatusBadRequest, "InvalidTerms"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, models.ErrAlreadyTaken):
		return http.StatusConflict, "AlreadyTaken"
	case errors.Is(err, models.ErrExpired):
		return http.StatusConflict, "Expired"
	case errors.Is(err, models.ErrAlreadyTerminal):
		return http.StatusConflict, "AlreadyTerminal"
	case errors.Is(err, models.ErrVersionConflict):
		return http.StatusConflict, "VersionConflict"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "InvalidTransition"
	case errors.Is(err, models.ErrNotParticipant):
		return http.StatusConflict, "NotParticipant"
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "StoreUnavailable"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}
