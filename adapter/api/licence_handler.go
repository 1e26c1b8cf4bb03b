package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mlewis7127/licenceledger/internal/licensing/application/commands"
	"github.com/mlewis7127/licenceledger/internal/licensing/application/queries"
	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
	"github.com/mlewis7127/licenceledger/pkg/observability"
)

const maxBodyBytes = 1 << 16

// LicenceCreator creates licences.
type LicenceCreator interface {
	Handle(ctx context.Context, cmd commands.CreateLicenceCommand) (*commands.CreateLicenceResult, error)
}

// LicenceFinder looks licences up by email.
type LicenceFinder interface {
	Handle(ctx context.Context, query queries.GetLicenceQuery) (*domain.Licence, error)
}

// LicenceHandler handles licence API requests.
type LicenceHandler struct {
	create  LicenceCreator
	get     LicenceFinder
	metrics observability.Metrics
	logger  *slog.Logger
}

// NewLicenceHandler creates a new licence handler. metrics may be nil.
func NewLicenceHandler(create LicenceCreator, get LicenceFinder, metrics observability.Metrics, logger *slog.Logger) *LicenceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &LicenceHandler{
		create:  create,
		get:     get,
		metrics: metrics,
		logger:  logger,
	}
}

// CreateLicenceRequest is the body of POST /api/v1/licences.
type CreateLicenceRequest struct {
	Email string `json:"email"`
}

// LicenceResponse describes a stamped licence.
type LicenceResponse struct {
	LicenceID string `json:"licenceId"`
	Email     string `json:"email"`
}

// CreateLicence handles POST /api/v1/licences
func (h *LicenceHandler) CreateLicence(w http.ResponseWriter, r *http.Request) {
	var req CreateLicenceRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "MalformedRequest", "request body must be a JSON object with an email field")
		return
	}

	op := observability.BeginOperation("create_licence", h.metrics, h.logger)
	result, err := h.create.Handle(r.Context(), commands.CreateLicenceCommand{
		Email:  req.Email,
		Source: "api",
	})
	op.End(r.Context(), err)
	if err != nil {
		if errors.Is(err, domain.ErrLicenceAlreadyExists) {
			h.metrics.Counter(observability.MetricLicencesRejected, 1)
		}
		h.writeError(w, r, "create licence", err)
		return
	}

	h.metrics.Counter(observability.MetricLicencesCreated, 1)
	writeJSON(w, http.StatusCreated, LicenceResponse{
		LicenceID: result.LicenceID,
		Email:     result.Email,
	})
}

// GetLicence handles GET /api/v1/licences?email=
func (h *LicenceHandler) GetLicence(w http.ResponseWriter, r *http.Request) {
	licence, err := h.get.Handle(r.Context(), queries.GetLicenceQuery{
		Email: r.URL.Query().Get("email"),
	})
	if err != nil {
		h.writeError(w, r, "get licence", err)
		return
	}

	writeJSON(w, http.StatusOK, LicenceResponse{
		LicenceID: licence.LicenceID,
		Email:     licence.Email,
	})
}

// writeError maps licensing errors onto HTTP problems. Store failures are
// logged but their details are not returned.
func (h *LicenceHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeProblem(w, http.StatusBadRequest, "ValidationError", err.Error())
	case errors.Is(err, domain.ErrLicenceAlreadyExists):
		writeProblem(w, http.StatusConflict, "LicenceAlreadyExists", err.Error())
	case errors.Is(err, domain.ErrLicenceNotFound):
		writeProblem(w, http.StatusNotFound, "LicenceNotFound", err.Error())
	case commands.IsRetryableConflict(err):
		h.logger.WarnContext(r.Context(), "ledger contention", "operation", op, "error", err)
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusServiceUnavailable, "LedgerContention", "the ledger is busy, retry the request")
	case errors.Is(err, domain.ErrLedgerAnomaly):
		h.logger.ErrorContext(r.Context(), "ledger anomaly", "operation", op, "error", err)
		writeProblem(w, http.StatusInternalServerError, "LedgerAnomaly", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "ledger store failure", "operation", op, "error", err)
		writeProblem(w, http.StatusInternalServerError, "StoreError", "the ledger store failed")
	}
}
