package wallet

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

// Handler manages wallet endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers wallet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.balance)
	r.Post("/add-funds", h.addFunds)
	r.Get("/transactions", h.transactions)
}

type addFundsRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

type transactionResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description,omitempty"`
	PaymentID   string    `json:"payment_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	wallet, err := h.service.Balance(r.Context(), actor)
	if err != nil {
		h.logger.Error("wallet balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"principal_id": wallet.PrincipalID,
		"balance":      wallet.Balance,
		"updated_at":   wallet.UpdatedAt,
	})
}

func (h *Handler) addFunds(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	var req addFundsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	txn, err := h.service.AddFunds(r.Context(), actor, req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	wallet, err := h.service.Balance(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transaction_id": txn.ID,
		"balance":        wallet.Balance,
	})
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	actor := shared.PrincipalFromContext(r.Context())
	txns, err := h.service.History(r.Context(), actor)
	if err != nil {
		h.logger.Error("wallet history", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:          t.ID,
			Type:        string(t.Type),
			Amount:      t.Amount,
			Description: t.Description,
			PaymentID:   t.PaymentID,
			CreatedAt:   t.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}
