package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/railwatch/internal/http/response"
	"github.com/diagnosis/railwatch/internal/prediction"
	"github.com/diagnosis/railwatch/internal/schedule"
	"github.com/diagnosis/railwatch/pkg/logger"
)

func (h *Handlers) predict(w http.ResponseWriter, r *http.Request) {
	if h.Predictor == nil {
		response.WriteError(w, http.StatusServiceUnavailable, "wait-time prediction is not configured", response.CodeUnavailable)
		return
	}

	var in prediction.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	out, err := h.Predictor.Predict(r.Context(), in)
	if err != nil {
		h.writeError(w, r, "predict", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, out)
}

func (h *Handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	crossingID := chi.URLParam(r, "crossingId")
	entries, err := h.Schedules.ByCrossing(r.Context(), crossingID)
	if err != nil {
		h.countError("get_schedule")
		logger.ErrorContext(r.Context(), "Schedule lookup failed", "error", err, "crossing_id", crossingID)
		response.BadGateway(w, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, struct {
		CrossingID string           `json:"crossingId"`
		Schedules  []schedule.Entry `json:"schedules"`
	}{crossingID, entries})
}
