package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/railwatch/internal/captcha"
	httpmw "github.com/diagnosis/railwatch/internal/http/middleware"
	"github.com/diagnosis/railwatch/internal/http/response"
	"github.com/diagnosis/railwatch/internal/mapview"
	"github.com/diagnosis/railwatch/internal/notify"
	"github.com/diagnosis/railwatch/internal/prediction"
	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/internal/schedule"
	"github.com/diagnosis/railwatch/internal/search"
	"github.com/diagnosis/railwatch/internal/toggle"
	"github.com/diagnosis/railwatch/internal/verification"
	"github.com/diagnosis/railwatch/pkg/cache"
	"github.com/diagnosis/railwatch/pkg/logger"
	"github.com/diagnosis/railwatch/pkg/metrics"
	mw "github.com/diagnosis/railwatch/pkg/middleware"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Registry    *registry.Registry
	View        *search.View
	Maps        *mapview.Adapter
	Coordinator *toggle.Coordinator
	Predictor   *prediction.Predictor // nil when no model is configured
	Schedules   schedule.Store
	Metrics     *metrics.Metrics

	JWTSecret      string
	DialogTokenTTL time.Duration

	PhoneLimiter   *httpmw.RateLimiter
	Idempotency    cache.Store
	IdempotencyTTL time.Duration
}

type Handlers struct {
	Deps
}

func New(d Deps) *Handlers {
	if d.DialogTokenTTL <= 0 {
		d.DialogTokenTTL = 10 * time.Minute
	}
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{Deps: d}
}

// Routes returns the /v1 API.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/gates", h.listGates)
	r.Get("/gates/{id}", h.getGate)
	r.Post("/gates/{id}/toggle", h.requestToggle)

	r.Get("/search", h.search)
	r.Post("/search", h.submitSearch)
	r.Delete("/search", h.clearSearch)
	r.Get("/dashboard", h.dashboard)
	r.Get("/map", h.mapView)

	r.Route("/verification", func(r chi.Router) {
		r.Use(httpmw.RequireDialog(h.JWTSecret))
		r.Get("/", h.getVerification)
		r.Delete("/", h.cancelVerification)
		if h.PhoneLimiter != nil {
			r.With(h.PhoneLimiter.Middleware()).Post("/phone", h.submitPhone)
		} else {
			r.Post("/phone", h.submitPhone)
		}
		r.Post("/code", h.submitCode)
		r.Post("/change-number", h.changeNumber)
	})

	if h.Idempotency != nil {
		r.With(mw.IdempotencyMiddleware(h.Idempotency, h.IdempotencyTTL)).Post("/predictions", h.predict)
	} else {
		r.Post("/predictions", h.predict)
	}
	r.Get("/schedules/{crossingId}", h.getSchedule)

	return r
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "invalid json")
		return false
	}
	return true
}

type providerErrorBody struct {
	Error        string              `json:"error"`
	Code         string              `json:"code"`
	Notification notify.Notification `json:"notification"`
	Widget       *captcha.Challenge  `json:"widget,omitempty"`
}

// writeError maps domain errors onto HTTP responses.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	var (
		verr *verification.ValidationError
		perr *verification.ProviderError
	)

	switch {
	case errors.Is(err, verification.ErrStaleContext):
		logger.DebugContext(ctx, "Discarding stale verification result", "operation", op)
		w.WriteHeader(http.StatusNoContent)
		return

	case errors.As(err, &verr):
		response.BadRequest(w, verr.Error())
		return

	case errors.As(err, &perr):
		body := providerErrorBody{Error: perr.Message(), Code: response.CodeProviderError, Widget: perr.Widget}
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, verification.ErrCodeRejected):
			status, body.Code = http.StatusUnauthorized, response.CodeCodeRejected
			body.Notification = notify.OTPVerificationFailed(perr.Message())
		case errors.Is(err, verification.ErrChallengeIssuance):
			body.Notification = notify.OTPSendFailed(perr.Message())
		default:
			body.Notification = notify.OTPVerificationFailed(perr.Message())
		}
		if status == http.StatusBadGateway {
			h.countError(op)
		}
		response.WriteJSON(w, status, body)
		return

	case errors.Is(err, verification.ErrNoActiveChallenge):
		response.Conflict(w, err.Error(), response.CodeNoActiveChallenge)
	case errors.Is(err, verification.ErrVerificationInProgress):
		response.Conflict(w, err.Error(), response.CodeVerificationInProgress)
	case errors.Is(err, verification.ErrRequestPending), errors.Is(err, verification.ErrWrongPhase):
		response.Conflict(w, err.Error(), response.CodeConflict)
	case errors.Is(err, verification.ErrNoSession):
		response.NotFound(w, err.Error())
	case errors.Is(err, registry.ErrNotFound):
		response.NotFound(w, "gate not found")
	case errors.Is(err, prediction.ErrInvalidInput):
		response.BadRequest(w, err.Error())
	case errors.Is(err, prediction.ErrProvider):
		h.countError(op)
		response.BadGateway(w, err.Error())
	default:
		h.countError(op)
		logger.ErrorContext(ctx, "Request failed", "operation", op, "error", err)
		response.InternalError(w, "internal error")
	}
}

func (h *Handlers) countError(op string) {
	if h.Metrics != nil {
		h.Metrics.ErrorsCount.WithLabelValues(op).Inc()
	}
}
