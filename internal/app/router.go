package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pactform/pactform/internal/agreement"
	"github.com/pactform/pactform/internal/hashchain"
	"github.com/pactform/pactform/internal/identity"
	"github.com/pactform/pactform/internal/messaging"
	"github.com/pactform/pactform/internal/observability"
	"github.com/pactform/pactform/internal/payment"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/pricing"
	"github.com/pactform/pactform/internal/wallet"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Verifier        CredentialVerifier
	AuthHandler     *identity.Handler
	DocumentHandler *agreement.Handler
	PricingHandler  *pricing.Handler
	PaymentHandler  *payment.Handler
	WalletHandler   *wallet.Handler
	MessageHandler  *messaging.Handler
	Chain           hashchain.Chain
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(params.Verifier))

		r.Route("/documents", func(r chi.Router) {
			r.Route("/pricing", params.PricingHandler.MountRoutes)
			params.DocumentHandler.MountRoutes(r)
		})
		r.Route("/payments", params.PaymentHandler.MountRoutes)
		r.Route("/wallet", params.WalletHandler.MountRoutes)
		r.Route("/messages", params.MessageHandler.MountRoutes)

		r.Get("/chain/verify", func(w http.ResponseWriter, req *http.Request) {
			ok, err := params.Chain.Verify(req.Context())
			if err != nil {
				params.Logger.Error("chain verify", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			httpx.JSON(w, http.StatusOK, map[string]any{"valid": ok})
		})

		if params.Config != nil && params.Config.UploadDir != "" {
			fileServer := http.StripPrefix("/uploads/", http.FileServer(http.Dir(params.Config.UploadDir)))
			r.Get("/uploads/*", fileServer.ServeHTTP)
		}
	})

	return r
}
