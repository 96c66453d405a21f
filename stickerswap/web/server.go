// Package web exposes the trade engine over HTTP and WebSocket. The caller's
// party id travels in the X-Party-ID header; authn is expected to happen in
// the gateway in front of this service.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/swapdesk/stickerswap/stickerswap/common"
	"github.com/swapdesk/stickerswap/stickerswap/database/models"
	"github.com/swapdesk/stickerswap/stickerswap/services"
	"github.com/swapdesk/stickerswap/stickerswap/trade"
)

const partyHeader = "X-Party-ID"

type Server struct {
	engine   *trade.Engine
	search   *services.StickerSearchService
	profiles *services.ProfileCache
	stickers trade.OwnershipStore
	images   *services.StickerImageService

	httpServer *http.Server
}

// NewServer wires the HTTP surface. images may be nil when no artwork bucket
// is configured; the image endpoint then answers 404.
func NewServer(addr string, engine *trade.Engine, search *services.StickerSearchService, profiles *services.ProfileCache, stickers trade.OwnershipStore, images *services.StickerImageService) *Server {
	s := &Server{
		engine:   engine,
		search:   search,
		profiles: profiles,
		stickers: stickers,
		images:   images,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/queue", s.handleEnterQueue)
	mux.HandleFunc("DELETE /v1/sessions/{id}/queue", s.handleCancelQueue)
	mux.HandleFunc("POST /v1/sessions/{id}/join", s.handleJoin)
	mux.HandleFunc("POST /v1/invites", s.handleDirectInvite)
	mux.HandleFunc("POST /v1/sessions/{id}/accept", s.handleAcceptInvite)
	mux.HandleFunc("POST /v1/sessions/{id}/decline", s.handleDeclineInvite)

	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionDetails)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleCancelSession)

	mux.HandleFunc("POST /v1/sessions/{id}/offers", s.handleAddOffer)
	mux.HandleFunc("DELETE /v1/sessions/{id}/offers/{instance}", s.handleRemoveOffer)
	mux.HandleFunc("POST /v1/sessions/{id}/requests", s.handleAddRequest)
	mux.HandleFunc("DELETE /v1/sessions/{id}/requests/{instance}", s.handleRemoveRequest)

	mux.HandleFunc("POST /v1/sessions/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /v1/sessions/{id}/unconfirm", s.handleUnconfirm)

	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/messages/read", s.handleMarkRead)

	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleSessionStream)

	mux.HandleFunc("GET /v1/stickers", s.handleSearchStickers)
	mux.HandleFunc("GET /v1/stickers/{instance}/image", s.handleStickerImage)
	mux.HandleFunc("GET /v1/profiles/{id}", s.handleProfile)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      withLogging(withCORS(withRateLimit(mux))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the listener in a goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		slog.Info("HTTP server listening",
			slog.String("type", "http"),
			slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed",
				slog.String("type", "http"),
				slog.String("error", err.Error()))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleEnterQueue(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	session, err := s.engine.EnterQueue(r.Context(), party)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleCancelQueue(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	if err := s.engine.CancelQueue(r.Context(), r.PathValue("id"), party); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	session, err := s.engine.Join(r.Context(), r.PathValue("id"), party)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDirectInvite(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	var req struct {
		PartyB string `json:"party_b"`
		Mode   string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	mode := models.ModeLive
	if req.Mode == string(models.ModeMailbox) {
		mode = models.ModeMailbox
	}
	session, err := s.engine.DirectInvite(r.Context(), party, req.PartyB, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	session, err := s.engine.AcceptInvite(r.Context(), r.PathValue("id"), party)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeclineInvite(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeclineInvite(r.Context(), r.PathValue("id"), party); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	sessions, err := s.engine.SessionsForParty(r.Context(), party)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionDetails(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	view, err := s.engine.SessionDetails(r.Context(), r.PathValue("id"), party)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	if err := s.engine.CancelSession(r.Context(), r.PathValue("id"), party); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddOffer(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	var req struct {
		InstanceID int64 `json:"instance_id"`
		Quantity   int64 `json:"quantity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.AddOffer(r.Context(), r.PathValue("id"), party, req.InstanceID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveOffer(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	instanceID, err := strconv.ParseInt(r.PathValue("instance"), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid instance id")
		return
	}
	if err := s.engine.RemoveOffer(r.Context(), r.PathValue("id"), party, instanceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddRequest(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	var req struct {
		InstanceID int64 `json:"instance_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.AddRequest(r.Context(), r.PathValue("id"), party, req.InstanceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveRequest(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	instanceID, err := strconv.ParseInt(r.PathValue("instance"), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid instance id")
		return
	}
	if err := s.engine.RemoveRequest(r.Context(), r.PathValue("id"), party, instanceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	session, err := s.engine.Confirm(r.Context(), r.PathValue("id"), party)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUnconfirm(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	if err := s.engine.Unconfirm(r.Context(), r.PathValue("id"), party); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	var req struct {
		Payload string `json:"payload"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.engine.SendMessage(r.Context(), r.PathValue("id"), party, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	if err := s.engine.MarkMessagesRead(r.Context(), r.PathValue("id"), party); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchStickers(w http.ResponseWriter, r *http.Request) {
	party, ok := requireParty(w, r)
	if !ok {
		return
	}
	results, err := s.search.Search(r.Context(), party, r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStickerImage(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireParty(w, r); !ok {
		return
	}
	if s.images == nil {
		writeErrorCode(w, http.StatusNotFound, "not_found", "artwork resolution is not configured")
		return
	}
	instanceID, err := strconv.ParseInt(r.PathValue("instance"), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid instance id")
		return
	}
	instance, err := s.stickers.Instance(r.Context(), instanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	url, err := s.images.ImageURL(r.Context(), instance.StickerID, instance.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireParty(w, r); !ok {
		return
	}
	profile, err := s.profiles.Profile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func requireParty(w http.ResponseWriter, r *http.Request) (string, bool) {
	party := r.Header.Get(partyHeader)
	if party == "" {
		writeErrorCode(w, http.StatusUnauthorized, "missing_party", "X-Party-ID header is required")
		return "", false
	}
	return party, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to encode response",
			slog.String("type", "http"),
			slog.String("error", err.Error()))
	}
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	InstanceID int64  `json:"instance_id,omitempty"`
}

// writeError maps the trade error taxonomy onto HTTP statuses. Conflict and
// ItemUnavailable are 409 because the caller can retry after re-reading;
// InvalidTransition is 422 because retrying the same call can never succeed.
func writeError(w http.ResponseWriter, err error) {
	var unavailable *common.ItemUnavailableError
	switch {
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusConflict, errorBody{
			Code:       "item_unavailable",
			Message:    err.Error(),
			InstanceID: unavailable.InstanceID,
		})
	case errors.Is(err, common.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, common.ErrNotParticipant):
		writeErrorCode(w, http.StatusForbidden, "not_participant", err.Error())
	case errors.Is(err, common.ErrInvalidTransition):
		writeErrorCode(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case errors.Is(err, common.ErrConflict):
		writeErrorCode(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, common.ErrExpired):
		writeErrorCode(w, http.StatusGone, "expired", err.Error())
	default:
		slog.Error("Unhandled error in HTTP handler",
			slog.String("type", "http"),
			slog.String("error", err.Error()))
		writeErrorCode(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}
