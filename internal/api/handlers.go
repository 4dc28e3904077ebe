package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/psigestao/plansync/internal/auth"
	"github.com/psigestao/plansync/internal/logging"
	"github.com/psigestao/plansync/internal/session"
	"github.com/psigestao/plansync/internal/subsync"
)

const maxRequestBodyBytes = 16 << 10

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type signInRequest struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`
}

type checkRequest struct {
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

type checkResponse struct {
	subsync.Outcome
	State subsync.SyncState `json:"state"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  h.version,
		"sessions": h.sessions.Len(),
	})
}

func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Open()
	writeJSON(w, http.StatusCreated, sessionResponse{ID: s.ID, CreatedAt: s.CreatedAt})
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Close(chi.URLParam(r, "sessionID")) {
		writeErrorResponse(w, http.StatusNotFound, "session_not_found", "Session not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var id auth.Identity
	if h.verifier != nil {
		verified, err := h.verifier.Verify(r.Context(), auth.BearerToken(r))
		if err != nil {
			logger := logging.FromContext(r.Context())
			logger.Debug().Err(err).Str("session_id", s.ID).Msg("Rejected sign-in token")
			writeErrorResponse(w, http.StatusUnauthorized, "invalid_token", "Invalid or missing bearer token", nil)
			return
		}
		id = verified
	} else {
		var req signInRequest
		if err := decodeBody(r, &req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid request body", nil)
			return
		}
		id = auth.Identity{
			UserID:      strings.TrimSpace(req.UserID),
			Email:       strings.ToLower(strings.TrimSpace(req.Email)),
			AccessToken: strings.TrimSpace(req.AccessToken),
		}
		if id.AccessToken == "" {
			id.AccessToken = auth.BearerToken(r)
		}
	}
	if id.UserID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "missing_user", "User id is required", nil)
		return
	}

	s.SignIn(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"user_id": id.UserID})
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Store().State())
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	req := subsync.SyncRequest{Reason: subsync.ReasonAutoCheck}
	var body checkRequest
	if err := decodeBody(r, &body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid request body", nil)
		return
	}
	if body.Reason != "" {
		reason, valid := subsync.ParseTriggerReason(strings.ToUpper(strings.TrimSpace(body.Reason)))
		if !valid {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_reason", "Unknown trigger reason",
				map[string]string{"reason": body.Reason})
			return
		}
		req.Reason = reason
	}
	req.Force = body.Force

	out, err := s.Engine().RequestSync(r.Context(), req)
	if err != nil {
		writeErrorResponse(w, http.StatusGatewayTimeout, "sync_pending", "Sync is still running", nil)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Outcome: out, State: s.Store().State()})
}

func (h *Handler) handleForceSync(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	out, err := s.Engine().ForceSync(r.Context())
	switch {
	case err != nil:
		writeErrorResponse(w, http.StatusGatewayTimeout, "sync_pending", out.Message, nil)
	case out.Success:
		writeJSON(w, http.StatusOK, out)
	case out.Decision == subsync.DecisionSkip:
		writeErrorResponse(w, http.StatusUnauthorized, "not_signed_in", out.Message, nil)
	case out.Result != nil && out.Result.Stale:
		writeJSON(w, http.StatusConflict, out)
	default:
		writeJSON(w, http.StatusBadGateway, out)
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "session_not_found", "Session not found", nil)
		return nil, false
	}
	return s, true
}

// decodeBody decodes an optional JSON body into v. An empty body is not an
// error.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
