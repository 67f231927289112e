package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httpmw "github.com/diagnosis/railwatch/internal/http/middleware"
	"github.com/diagnosis/railwatch/internal/http/response"
	"github.com/diagnosis/railwatch/internal/notify"
	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/internal/verification"
	"github.com/diagnosis/railwatch/pkg/auth"
	"github.com/diagnosis/railwatch/pkg/logger"
)

type toggleResponse struct {
	DialogToken string                `json:"dialog_token"`
	ExpiresIn   int64                 `json:"expires_in"`
	Gate        registry.GateRecord   `json:"gate"`
	Session     verification.Snapshot `json:"session"`
}

type sessionResponse struct {
	Session      verification.Snapshot `json:"session"`
	Notification *notify.Notification  `json:"notification,omitempty"`
}

type verifiedResponse struct {
	Gate          registry.GateRecord   `json:"gate"`
	Notifications []notify.Notification `json:"notifications"`
}

func (h *Handlers) requestToggle(w http.ResponseWriter, r *http.Request) {
	req, err := h.Coordinator.RequestToggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "request_toggle", err)
		return
	}

	token, err := auth.NewDialogToken(req.Session.SessionID, req.Gate.ID, h.JWTSecret, h.DialogTokenTTL)
	if err != nil {
		_ = h.Coordinator.Workflow().Cancel(r.Context(), req.Session.SessionID)
		h.writeError(w, r, "request_toggle", err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, toggleResponse{
		DialogToken: token,
		ExpiresIn:   int64(h.DialogTokenTTL.Seconds()),
		Gate:        req.Gate,
		Session:     req.Session,
	})
}

func (h *Handlers) getVerification(w http.ResponseWriter, r *http.Request) {
	claims := httpmw.DialogClaims(r)
	snap, err := h.Coordinator.Workflow().Current(r.Context(), claims.SessionID)
	if err != nil {
		h.writeError(w, r, "get_verification", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, sessionResponse{Session: snap})
}

func (h *Handlers) submitPhone(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PhoneNumber string `json:"phone_number"`
		Proof       string `json:"proof"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	claims := httpmw.DialogClaims(r)
	snap, err := h.Coordinator.Workflow().SubmitPhoneNumber(r.Context(), claims.SessionID, in.PhoneNumber, in.Proof)
	if err != nil {
		h.writeError(w, r, "submit_phone", err)
		return
	}

	n := notify.OTPSent(snap.PhoneNumber)
	response.WriteJSON(w, http.StatusOK, sessionResponse{Session: snap, Notification: &n})
}

func (h *Handlers) submitCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	claims := httpmw.DialogClaims(r)
	res, err := h.Coordinator.Confirm(r.Context(), claims.SessionID, in.Code)
	if err != nil {
		h.writeError(w, r, "submit_code", err)
		return
	}

	logger.InfoContext(r.Context(), "Verified toggle applied", "gate_id", res.Gate.ID, "status", res.Gate.Status)
	response.WriteJSON(w, http.StatusOK, verifiedResponse{
		Gate:          res.Gate,
		Notifications: []notify.Notification{notify.OTPVerified(), res.Notification},
	})
}

func (h *Handlers) changeNumber(w http.ResponseWriter, r *http.Request) {
	claims := httpmw.DialogClaims(r)
	snap, err := h.Coordinator.Workflow().ChangeNumber(r.Context(), claims.SessionID)
	if err != nil {
		h.writeError(w, r, "change_number", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, sessionResponse{Session: snap})
}

func (h *Handlers) cancelVerification(w http.ResponseWriter, r *http.Request) {
	claims := httpmw.DialogClaims(r)
	if err := h.Coordinator.Workflow().Cancel(r.Context(), claims.SessionID); err != nil {
		h.writeError(w, r, "cancel_verification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
