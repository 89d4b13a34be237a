// Package chi is the HTTP API of the agent: provider registration,
// routing, payments, budgets and the decision/rebalancing read side.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/paymesh-io/paymesh/internal/domain"
	dombudget "github.com/paymesh-io/paymesh/internal/domain/budget"
	dompayment "github.com/paymesh-io/paymesh/internal/domain/payment"
	"github.com/paymesh-io/paymesh/internal/domain/provider"
	"github.com/paymesh-io/paymesh/internal/domain/routing"
	healthuc "github.com/paymesh-io/paymesh/internal/usecase/health"
	paymentuc "github.com/paymesh-io/paymesh/internal/usecase/payment"
	policyuc "github.com/paymesh-io/paymesh/internal/usecase/policy"
)

// Error codes returned in the JSON error body.
const (
	codeBadRequest            = "bad_request"
	codeValidationFailed      = "validation_failed"
	codeProviderNotFound      = "provider_not_found"
	codeProviderExists        = "provider_already_exists"
	codePaymentNotFound       = "payment_not_found"
	codePaymentExists         = "payment_already_exists"
	codePaymentNotCancellable = "payment_not_cancellable"
	codeBudgetNotFound        = "budget_not_found"
	codeBudgetViolation       = "budget_violation"
	codeNoProvider            = "no_suitable_provider"
	codeOracleUnavailable     = "oracle_unavailable"
	codePaymentRejected       = "payment_rejected"
	codeInternalError         = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the usecases behind the HTTP routes.
type Server struct {
	registry      Registry
	payments      *paymentuc.Service
	policy        *policyuc.Engine
	guard         BudgetGuard
	usage         UsageSource
	feedback      FeedbackSink
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	registry Registry,
	payments *paymentuc.Service,
	policy *policyuc.Engine,
	guard BudgetGuard,
	usage UsageSource,
	feedback FeedbackSink,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		registry: registry,
		payments: payments,
		policy:   policy,
		guard:    guard,
		usage:    usage,
		feedback: feedback,
		health:   health,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrProviderNotRegistered, http.StatusNotFound, codeProviderNotFound),
		sentinelHandler(domain.ErrProviderExists, http.StatusConflict, codeProviderExists),
		sentinelHandler(domain.ErrPaymentNotFound, http.StatusNotFound, codePaymentNotFound),
		sentinelHandler(domain.ErrPaymentExists, http.StatusConflict, codePaymentExists),
		sentinelHandler(domain.ErrPaymentNotCancellable, http.StatusConflict, codePaymentNotCancellable),
		sentinelHandler(domain.ErrBudgetNotFound, http.StatusNotFound, codeBudgetNotFound),
		sentinelHandler(domain.ErrInvalidLimits, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrDailyLimitExceeded, http.StatusPaymentRequired, codeBudgetViolation),
		sentinelHandler(domain.ErrMonthlyLimitExceeded, http.StatusPaymentRequired, codeBudgetViolation),
		sentinelHandler(domain.ErrEmergencyThreshold, http.StatusPaymentRequired, codeBudgetViolation),
		sentinelHandler(domain.ErrBudgetInactive, http.StatusPaymentRequired, codeBudgetViolation),
		sentinelHandler(domain.ErrPaymentRejected, http.StatusPaymentRequired, codePaymentRejected),
		sentinelHandler(domain.ErrNoSuitableProvider, http.StatusServiceUnavailable, codeNoProvider),
		sentinelHandler(domain.ErrNoProvidersAvailable, http.StatusServiceUnavailable, codeNoProvider),
		sentinelHandler(domain.ErrOracleUnavailable, http.StatusServiceUnavailable, codeOracleUnavailable),
	}
	return s
}

// Routes assembles the route tree on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.getHealth)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		promhttp.Handler().ServeHTTP(w, req)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/providers", func(r chi.Router) {
			r.Post("/", s.registerProvider)
			r.Get("/", s.listProviders)
			r.Get("/{id}", s.getProvider)
			r.Delete("/{id}", s.deactivateProvider)
		})

		r.Post("/route", s.route)

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", s.submitPayment)
			r.Get("/", s.listPayments)
			r.Get("/{id}", s.getPayment)
			r.Delete("/{id}", s.cancelPayment)
		})

		r.Post("/feedback", s.addFeedback)

		r.Route("/budgets/{principal}", func(r chi.Router) {
			r.Put("/", s.configureBudget)
			r.Get("/", s.getBudget)
			r.Delete("/", s.deactivateBudget)
		})

		r.Get("/usage", s.getUsage)
		r.Get("/decisions", s.listDecisions)
		r.Get("/rebalancing", s.getRebalancing)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.getSettings)
			r.Put("/", s.updateSettings)
		})
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

type providerRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Endpoint    string   `json:"endpoint"`
	Chains      []string `json:"chains"`
	CostPerCall float64  `json:"cost_per_call"`
	Reliability float64  `json:"reliability"`
}

type providerResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Endpoint     string    `json:"endpoint"`
	Chains       []string  `json:"chains"`
	CostPerCall  float64   `json:"cost_per_call"`
	Reliability  float64   `json:"reliability"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

func providerToResponse(p provider.Provider) providerResponse {
	return providerResponse{
		ID:           p.ID,
		Name:         p.Name,
		Endpoint:     p.Endpoint,
		Chains:       p.Chains,
		CostPerCall:  p.CostPerCall,
		Reliability:  p.Reliability,
		Active:       p.Active,
		RegisteredAt: p.RegisteredAt,
	}
}

// registerProvider handles POST /v1/providers.
func (s *Server) registerProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ID == "" || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "provider id and endpoint are required")
		return
	}
	if len(req.Chains) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "provider must support at least one chain")
		return
	}
	if req.CostPerCall < 0 || req.Reliability < 0 || req.Reliability > 1 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "cost must be non-negative and reliability in [0, 1]")
		return
	}

	p := provider.Provider{
		ID:          req.ID,
		Name:        req.Name,
		Endpoint:    req.Endpoint,
		Chains:      req.Chains,
		CostPerCall: req.CostPerCall,
		Reliability: req.Reliability,
	}
	if err := s.registry.Register(r.Context(), p); err != nil {
		s.handleDomainError(w, err)
		return
	}

	created, err := s.registry.Get(req.ID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, providerToResponse(created))
}

// listProviders handles GET /v1/providers.
func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	providers := s.registry.List()
	items := make([]providerResponse, len(providers))
	for i, p := range providers {
		items[i] = providerToResponse(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// getProvider handles GET /v1/providers/{id}.
func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providerToResponse(p))
}

// deactivateProvider handles DELETE /v1/providers/{id}.
func (s *Server) deactivateProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type routeRequest struct {
	Chain       string  `json:"chain"`
	ServiceType string  `json:"service_type"`
	Amount      float64 `json:"amount"`
	MaxCost     float64 `json:"max_cost,omitempty"`
}

type routeResponse struct {
	ProviderID string    `json:"provider_id"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	DecidedAt  time.Time `json:"decided_at"`
}

// route handles POST /v1/route.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Chain == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "chain is required")
		return
	}

	route, err := s.policy.MakeImmediateDecision(r.Context(), routing.Request{
		Chain:       req.Chain,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		MaxCost:     req.MaxCost,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, routeResponse{
		ProviderID: route.ProviderID,
		Confidence: route.Confidence,
		Source:     string(route.Source),
		DecidedAt:  route.DecidedAt,
	})
}

type paymentRequest struct {
	ID          string  `json:"id,omitempty"`
	Principal   string  `json:"principal"`
	ProviderID  string  `json:"provider_id"`
	Chain       string  `json:"chain"`
	ServiceType string  `json:"service_type"`
	Amount      float64 `json:"amount"`
	Elevated    bool    `json:"elevated,omitempty"`
	Recipient   string  `json:"recipient,omitempty"`
	Metadata    string  `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID          string    `json:"id"`
	Principal   string    `json:"principal"`
	ProviderID  string    `json:"provider_id"`
	Chain       string    `json:"chain"`
	ServiceType string    `json:"service_type"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	TxID        string    `json:"tx_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func paymentToResponse(p dompayment.Payment) paymentResponse {
	return paymentResponse{
		ID:          p.ID,
		Principal:   p.Principal,
		ProviderID:  p.ProviderID,
		Chain:       p.Chain,
		ServiceType: p.ServiceType,
		Amount:      p.Amount,
		Status:      string(p.Status),
		Attempts:    p.Attempts,
		TxID:        p.TxID,
		LastError:   p.LastError,
		SubmittedAt: p.SubmittedAt,
	}
}

// submitPayment handles POST /v1/payments: the payment is submitted
// and executed in the same request. A rejected first attempt leaves
// the payment pending for the retry sweep, reported with 402.
func (s *Server) submitPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Principal == "" || req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "principal and provider_id are required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "amount must be positive")
		return
	}

	p, err := s.payments.Submit(r.Context(), dompayment.Payment{
		ID:          req.ID,
		Principal:   req.Principal,
		ProviderID:  req.ProviderID,
		Chain:       req.Chain,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		Elevated:    req.Elevated,
		Recipient:   req.Recipient,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	done, err := s.payments.Process(r.Context(), p.ID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentToResponse(done))
}

// listPayments handles GET /v1/payments.
func (s *Server) listPayments(w http.ResponseWriter, _ *http.Request) {
	payments := s.payments.List()
	items := make([]paymentResponse, len(payments))
	for i, p := range payments {
		items[i] = paymentToResponse(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// getPayment handles GET /v1/payments/{id}.
func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.payments.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentToResponse(p))
}

// cancelPayment handles DELETE /v1/payments/{id}.
func (s *Server) cancelPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.payments.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentToResponse(p))
}

type feedbackRequest struct {
	ProviderID     string  `json:"provider_id"`
	Quality        float64 `json:"quality"`
	ResponseMillis float64 `json:"response_ms"`
	Cost           float64 `json:"cost"`
}

// addFeedback handles POST /v1/feedback.
func (s *Server) addFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "provider_id is required")
		return
	}
	if req.Quality < 0 || req.Quality > 100 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "quality must be in [0, 100]")
		return
	}
	if _, err := s.registry.Get(req.ProviderID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	s.feedback.AddFeedback(req.ProviderID, req.Quality, req.ResponseMillis, req.Cost)
	w.WriteHeader(http.StatusAccepted)
}

type budgetRequest struct {
	DailyLimit         float64 `json:"daily_limit"`
	MonthlyLimit       float64 `json:"monthly_limit"`
	EmergencyThreshold float64 `json:"emergency_threshold,omitempty"`
}

type budgetResponse struct {
	Principal        string  `json:"principal"`
	DailyLimit       float64 `json:"daily_limit"`
	MonthlyLimit     float64 `json:"monthly_limit"`
	DailySpent       float64 `json:"daily_spent"`
	MonthlySpent     float64 `json:"monthly_spent"`
	DailyRemaining   float64 `json:"daily_remaining"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
	Active           bool    `json:"active"`
}

func budgetToResponse(st dombudget.Status) budgetResponse {
	return budgetResponse{
		Principal:        st.Principal,
		DailyLimit:       st.DailyLimit,
		MonthlyLimit:     st.MonthlyLimit,
		DailySpent:       st.DailySpent,
		MonthlySpent:     st.MonthlySpent,
		DailyRemaining:   st.DailyRemaining,
		MonthlyRemaining: st.MonthlyRemaining,
		Active:           st.Active,
	}
}

// configureBudget handles PUT /v1/budgets/{principal}.
func (s *Server) configureBudget(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.guard.Configure(r.Context(), principal, req.DailyLimit, req.MonthlyLimit, req.EmergencyThreshold); err != nil {
		s.handleDomainError(w, err)
		return
	}

	st, err := s.guard.Status(principal)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetToResponse(st))
}

// getBudget handles GET /v1/budgets/{principal}.
func (s *Server) getBudget(w http.ResponseWriter, r *http.Request) {
	st, err := s.guard.Status(chi.URLParam(r, "principal"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetToResponse(st))
}

// deactivateBudget handles DELETE /v1/budgets/{principal}.
func (s *Server) deactivateBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.Deactivate(r.Context(), chi.URLParam(r, "principal")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type usageResponse struct {
	WindowSeconds         int     `json:"window_seconds"`
	TotalRequests         int     `json:"total_requests"`
	SuccessfulPayments    int     `json:"successful_payments"`
	FailedPayments        int     `json:"failed_payments"`
	TotalVolume           float64 `json:"total_volume"`
	AverageResponseMillis float64 `json:"average_response_ms"`
	CostEfficiency        float64 `json:"cost_efficiency"`
}

// getUsage handles GET /v1/usage?window_seconds=3600.
func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			writeError(w, http.StatusBadRequest, codeValidationFailed, "window_seconds must be a positive integer")
			return
		}
		window = time.Duration(secs) * time.Second
	}

	m := s.usage.Usage(window)
	writeJSON(w, http.StatusOK, usageResponse{
		WindowSeconds:         int(window.Seconds()),
		TotalRequests:         m.TotalRequests,
		SuccessfulPayments:    m.SuccessfulPayments,
		FailedPayments:        m.FailedPayments,
		TotalVolume:           m.TotalVolume,
		AverageResponseMillis: m.AverageResponseMillis,
		CostEfficiency:        m.CostEfficiency,
	})
}

// listDecisions handles GET /v1/decisions?limit=N.
func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, codeValidationFailed, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.policy.History(limit)})
}

// getRebalancing handles GET /v1/rebalancing.
func (s *Server) getRebalancing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.policy.Rebalancing()})
}

type settingsPayload struct {
	MaxCostPerTransaction float64  `json:"max_cost_per_transaction"`
	ReliabilityThreshold  float64  `json:"reliability_threshold"`
	PreferredChains       []string `json:"preferred_chains"`
	RebalanceFrequencySec int      `json:"rebalance_frequency_seconds"`
	AutoOptimization      bool     `json:"auto_optimization"`
}

// getSettings handles GET /v1/settings.
func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	st := s.policy.Settings()
	writeJSON(w, http.StatusOK, settingsPayload{
		MaxCostPerTransaction: st.MaxCostPerTransaction,
		ReliabilityThreshold:  st.ReliabilityThreshold,
		PreferredChains:       st.PreferredChains,
		RebalanceFrequencySec: int(st.RebalanceFrequency.Seconds()),
		AutoOptimization:      st.AutoOptimization,
	})
}

// updateSettings handles PUT /v1/settings.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	err := s.policy.UpdateSettings(policyuc.Settings{
		MaxCostPerTransaction: req.MaxCostPerTransaction,
		ReliabilityThreshold:  req.ReliabilityThreshold,
		PreferredChains:       req.PreferredChains,
		RebalanceFrequency:    time.Duration(req.RebalanceFrequencySec) * time.Second,
		AutoOptimization:      req.AutoOptimization,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}
	s.getSettings(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage exposes sentinel messages only; anything else is
// an opaque internal error.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrProviderNotRegistered,
		domain.ErrProviderExists,
		domain.ErrPaymentNotFound,
		domain.ErrPaymentExists,
		domain.ErrPaymentNotCancellable,
		domain.ErrPaymentRejected,
		domain.ErrBudgetNotFound,
		domain.ErrBudgetInactive,
		domain.ErrInvalidLimits,
		domain.ErrDailyLimitExceeded,
		domain.ErrMonthlyLimitExceeded,
		domain.ErrEmergencyThreshold,
		domain.ErrNoSuitableProvider,
		domain.ErrNoProvidersAvailable,
		domain.ErrOracleUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
