package payment

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

// Handler manages payment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/document/{ref}/setup-distribution", h.setupDistribution)
	r.Get("/document/{ref}/payment-status", h.status)
	r.Get("/document/{ref}/calculate", h.calculate)
	r.Post("/document/{ref}/pay", h.pay)
	r.Get("/document/{ref}/payments", h.listByAgreement)
	r.Get("/my-payments", h.listMine)
}

type distributionEntryRequest struct {
	PrincipalID string  `json:"principal_id" validate:"required"`
	Percentage  float64 `json:"percentage" validate:"required,gt=0"`
}

type setupDistributionRequest struct {
	Entries []distributionEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

type paymentResponse struct {
	ID            string    `json:"id"`
	AgreementID   string    `json:"agreement_id"`
	PrincipalID   string    `json:"principal_id"`
	Amount        float64   `json:"amount"`
	DurationDays  int       `json:"duration_days"`
	Percentage    float64   `json:"percentage"`
	Status        Status    `json:"status"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toPaymentResponse(p *Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		AgreementID:   p.AgreementID,
		PrincipalID:   p.PrincipalID,
		Amount:        p.Amount,
		DurationDays:  p.DurationDays,
		Percentage:    p.Percentage,
		Status:        p.Status,
		CorrelationID: p.CorrelationID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (h *Handler) setupDistribution(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	var req setupDistributionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entries := make([]EntryInput, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, EntryInput{PrincipalID: e.PrincipalID, Percentage: e.Percentage})
	}
	d, err := h.service.SetupDistribution(r.Context(), actor,
		shared.ParseRef(chi.URLParam(r, "ref")), entries)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	report, err := h.service.Status(r.Context(), actor, shared.ParseRef(chi.URLParam(r, "ref")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	quote, err := h.service.Calculate(r.Context(), actor, shared.ParseRef(chi.URLParam(r, "ref")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	p, err := h.service.Pay(r.Context(), actor, shared.ParseRef(chi.URLParam(r, "ref")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(p))
}

func (h *Handler) listByAgreement(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	payments, err := h.service.ListByAgreement(r.Context(), actor, shared.ParseRef(chi.URLParam(r, "ref")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	payments, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}
