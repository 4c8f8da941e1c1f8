// Package httpapi implements spec §6's auth-protected HTTP API and webhook
// receiver: a plain net/http.ServeMux wrapping the Retirement Service,
// Reconciliation Coordinator, Auth Service, Dashboard Projector, and
// prepaid-balance Repository, mirroring the pack's rest.Handler style
// (Kelpejol-consonant-engine/handler.go): one Handler, RegisterRoutes(mux),
// writeJSON/writeError helpers, and a middleware chain.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CShear/regen-compute-credits/internal/auth"
	"github.com/CShear/regen-compute-credits/internal/balance"
	"github.com/CShear/regen-compute-credits/internal/dashboard"
	"github.com/CShear/regen-compute-credits/internal/identity"
	"github.com/CShear/regen-compute-credits/internal/pool"
	"github.com/CShear/regen-compute-credits/internal/reconcile"
	"github.com/CShear/regen-compute-credits/internal/retirement"
)

// Handler wires the core services into the public HTTP surface.
type Handler struct {
	Retirement *retirement.Service
	Reconcile  *reconcile.Coordinator
	Auth       *auth.Service
	Dashboard  *dashboard.Projector
	Balance    *balance.Repository
	Pool       *pool.Accounting
	Webhook    *WebhookConfig
	RateLimit  RateLimitConfig
}

// RegisterRoutes registers every route on mux, matching the pack's
// "one Handler, RegisterRoutes(mux)" convention.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	protected := Chain(http.HandlerFunc(h.routeAPIv1), RequireBearerAuth(h.Balance), RateLimit(h.RateLimit))
	mux.Handle("/api/v1/", protected)

	mux.HandleFunc("/webhooks/checkout", h.handleCheckoutWebhook)
	mux.HandleFunc("/openapi.json", h.handleOpenAPI)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
}

// routeAPIv1 is a minimal method+path router under /api/v1, kept as plain
// net/http rather than a third-party router — the pack's own rest.Handler
// dispatches the same way with one HandleFunc per resource and a method
// check inside each, not a router library.
func (h *Handler) routeAPIv1(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/retirements" && r.Method == http.MethodPost:
		h.handleRetire(w, r)
	case r.URL.Path == "/api/v1/batches/run" && r.Method == http.MethodPost:
		h.handleRunBatch(w, r)
	case r.URL.Path == "/api/v1/auth/email/start" && r.Method == http.MethodPost:
		h.handleStartEmailAuth(w, r)
	case r.URL.Path == "/api/v1/auth/email/verify" && r.Method == http.MethodPost:
		h.handleVerifyEmailAuth(w, r)
	case r.URL.Path == "/api/v1/auth/oauth/start" && r.Method == http.MethodPost:
		h.handleStartOAuthAuth(w, r)
	case r.URL.Path == "/api/v1/auth/oauth/verify" && r.Method == http.MethodPost:
		h.handleVerifyOAuthAuth(w, r)
	case r.URL.Path == "/api/v1/auth/recovery/start" && r.Method == http.MethodPost:
		h.handleStartRecovery(w, r)
	case r.URL.Path == "/api/v1/auth/recovery/redeem" && r.Method == http.MethodPost:
		h.handleRecoverWithToken(w, r)
	case matchMonthSummary(r.URL.Path) != "" && r.Method == http.MethodGet:
		h.handleMonthSummary(w, r, matchMonthSummary(r.URL.Path))
	case r.URL.Path == "/api/v1/dashboard/batches" && r.Method == http.MethodGet:
		h.handleBatchHistory(w, r)
	case matchCertificate(r.URL.Path) != "" && r.Method == http.MethodGet:
		h.handleCertificate(w, r, matchCertificate(r.URL.Path))
	default:
		writeError(w, KindNotFound, "no such route", nil)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func (h *Handler) handleRetire(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID                 string `json:"userId"`
		CreditTypeHint         string `json:"creditTypeHint"`
		TargetQuantity         string `json:"targetQuantity"`
		PreferredDenom         string `json:"preferredDenom"`
		BeneficiaryName        string `json:"beneficiaryName"`
		RetirementJurisdiction string `json:"retirementJurisdiction"`
		Reason                 string `json:"reason"`
		MarketplaceURL         string `json:"marketplaceUrl"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, KindInvalidRequest, "invalid JSON body", err.Error())
		return
	}
	if body.UserID == "" || body.TargetQuantity == "" {
		writeError(w, KindInvalidRequest, "userId and targetQuantity are required", nil)
		return
	}

	result, err := h.Retirement.ExecuteRetirement(r.Context(), retirement.Request{
		UserID:                 body.UserID,
		CreditTypeHint:         body.CreditTypeHint,
		TargetQuantity:         body.TargetQuantity,
		PreferredDenom:         body.PreferredDenom,
		BeneficiaryName:        body.BeneficiaryName,
		RetirementJurisdiction: body.RetirementJurisdiction,
		BaseReason:             body.Reason,
		Identity:               identity.Attribution{Method: identity.MethodNone},
		MarketplaceURL:         body.MarketplaceURL,
	})
	if err != nil {
		writeError(w, KindInternalError, "retirement service is not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Month                  string `json:"month"`
		CreditType             string `json:"creditType"`
		Live                   bool   `json:"live"`
		Force                  bool   `json:"force"`
		Reason                 string `json:"reason"`
		SyncBeforeBatch        bool   `json:"syncBeforeBatch"`
		PreferredDenom         string `json:"preferredDenom"`
		BeneficiaryName        string `json:"beneficiaryName"`
		RetirementJurisdiction string `json:"retirementJurisdiction"`
		MarketplaceURL         string `json:"marketplaceUrl"`
		FeeBasisPoints         int64  `json:"feeBasisPoints"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, KindInvalidRequest, "invalid JSON body", err.Error())
		return
	}
	if body.Month == "" || body.CreditType == "" {
		writeError(w, KindInvalidRequest, "month and creditType are required", nil)
		return
	}

	run, err := h.Reconcile.Run(r.Context(), reconcile.Request{
		Month:                  body.Month,
		CreditType:             body.CreditType,
		Live:                   body.Live,
		Force:                  body.Force,
		Reason:                 body.Reason,
		SyncBeforeBatch:        body.SyncBeforeBatch,
		PreferredDenom:         body.PreferredDenom,
		BeneficiaryName:        body.BeneficiaryName,
		RetirementJurisdiction: body.RetirementJurisdiction,
		MarketplaceURL:         body.MarketplaceURL,
		FeeBasisPoints:         body.FeeBasisPoints,
	})
	if err != nil {
		writeError(w, KindInternalError, "failed to run reconciliation", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(openAPIDocument)
}
