// Package server exposes the lending engine over an HTTP JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"SiteLend/internal/ingestion"
	"SiteLend/internal/observability"
	"SiteLend/internal/registry"
	"SiteLend/internal/site"
)

// LiquidationSink receives successful liquidation results for the
// history log. Nil disables recording.
type LiquidationSink func(conditionID string, res *site.LiquidationResult)

// Server wires the registry behind chi routes.
type Server struct {
	addr     string
	registry *registry.Registry
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	liqSink  LiquidationSink
	log      zerolog.Logger
}

func New(addr string, reg *registry.Registry, health *observability.HealthChecker, metrics *observability.Metrics, liqSink LiquidationSink, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		registry: reg,
		health:   health,
		metrics:  metrics,
		liqSink:  liqSink,
		log:      log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1/sites", func(r chi.Router) {
		r.Get("/", s.handleListSites)
		r.Route("/{condition}", func(r chi.Router) {
			r.Get("/", s.handleSiteInfo)
			r.Get("/positions/{user}", s.handlePosition)
			r.Get("/positions/{user}/max-borrowable", s.handleMaxBorrowable)
			r.Get("/positions/{user}/max-withdrawable", s.handleMaxWithdrawable)

			r.Post("/deposit", s.handleDeposit)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/borrow", s.handleBorrow)
			r.Post("/repay", s.handleRepay)
			r.Post("/liquidate", s.handleLiquidate)
			r.Post("/harvest", s.handleHarvest)
			r.Put("/config", s.handleUpdateConfig)

			r.Route("/resolution", func(r chi.Router) {
				r.Post("/handle", s.handleResolutionHandle)
				r.Post("/finalize", s.handleResolutionFinalize)
				r.Post("/dispute", s.handleResolutionDispute)
				r.Post("/resume", s.handleResolutionResume)
				r.Post("/cancel", s.handleResolutionCancel)
				r.Post("/settle", s.handleSettle)
				r.Post("/distribute", s.handleDistribute)
			})
		})
	})

	return r
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	s.log.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
			s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (s *Server) siteFrom(w http.ResponseWriter, r *http.Request) (*site.Site, bool) {
	condition := chi.URLParam(r, "condition")
	st, err := s.registry.Get(condition)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return st, true
}

func parseAsset(s string) (site.AssetKind, error) {
	switch s {
	case "YES":
		return site.AssetYes, nil
	case "NO":
		return site.AssetNo, nil
	case "QUOTE":
		return site.AssetQuote, nil
	default:
		return 0, errors.New("asset must be YES, NO, or QUOTE")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeSiteError maps engine errors to HTTP statuses.
func writeSiteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, site.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, site.ErrUnknownUser),
		errors.Is(err, registry.ErrSiteNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, site.ErrStalePrice):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusConflict, err)
	}
}

// --- Mutating handlers ---

type depositRequest struct {
	User      string `json:"user"`
	Asset     string `json:"asset"`
	Amount    int64  `json:"amount"`
	Protected bool   `json:"protected"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shares, err := st.Deposit(req.User, asset, req.Amount, req.Protected)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"shares_minted": shares})
}

type withdrawRequest struct {
	User      string `json:"user"`
	Asset     string `json:"asset"`
	Shares    int64  `json:"shares"`
	Protected bool   `json:"protected"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decode(w, r, &req) {
		return
	}
	asset, err := parseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := st.Withdraw(req.User, asset, req.Shares, req.Protected)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount_out": amount})
}

type borrowRequest struct {
	User   string `json:"user"`
	Amount int64  `json:"amount"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if !decode(w, r, &req) {
		return
	}
	shares, err := st.Borrow(req.User, req.Amount)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"debt_shares_minted": shares})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if !decode(w, r, &req) {
		return
	}
	applied, err := st.Repay(req.User, req.Amount)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount_applied": applied})
}

type liquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	User        string `json:"user"`
	RepayAmount int64  `json:"repay_amount"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := st.Liquidate(req.Liquidator, req.User, req.RepayAmount)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	if s.liqSink != nil {
		s.liqSink(st.ConditionID, res)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	fees, err := st.HarvestProtocolFees()
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"fees_harvested": fees})
}

type configRequest struct {
	MaxLtvBps                  int64 `json:"max_ltv_bps"`
	LiquidationThresholdBps    int64 `json:"liquidation_threshold_bps"`
	LiquidationTargetBps       int64 `json:"liquidation_target_bps"`
	LiquidationBonusBps        int64 `json:"liquidation_bonus_bps"`
	ProtocolFeeBps             int64 `json:"protocol_fee_bps"`
	ProtectedSeizable          bool  `json:"protected_seizable"`
	RestrictWinningWithdrawals bool  `json:"restrict_winning_withdrawals"`
	GracePeriodSeconds         int64 `json:"grace_period_seconds"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req configRequest
	if !decode(w, r, &req) {
		return
	}
	err := st.UpdateCachedConfig(site.RiskParams{
		MaxLtvBps:                  req.MaxLtvBps,
		LiquidationThresholdBps:    req.LiquidationThresholdBps,
		LiquidationTargetBps:       req.LiquidationTargetBps,
		LiquidationBonusBps:        req.LiquidationBonusBps,
		ProtocolFeeBps:             req.ProtocolFeeBps,
		ProtectedSeizable:          req.ProtectedSeizable,
		RestrictWinningWithdrawals: req.RestrictWinningWithdrawals,
		GracePeriodSeconds:         req.GracePeriodSeconds,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- Resolution handlers ---

func (s *Server) handleResolutionHandle(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	if err := st.HandleResolution(); err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolving"})
}

func (s *Server) handleResolutionFinalize(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	if err := st.FinalizeResolution(); err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleResolutionDispute(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := st.DisputeResolution(req.Reason); err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

type resumeRequest struct {
	Winner string `json:"winner,omitempty"`
}

func (s *Server) handleResolutionResume(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req resumeRequest
	if !decode(w, r, &req) {
		return
	}
	winner := site.SideNone
	if req.Winner != "" {
		var err error
		winner, err = ingestion.ParseSide(req.Winner)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := st.ResumeResolution(winner); err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolving"})
}

func (s *Server) handleResolutionCancel(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	if err := st.CancelResolution(); err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

type settleRequest struct {
	Users []string `json:"users"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !decode(w, r, &req) {
		return
	}
	results, err := st.LiquidateLosingPositions(req.Users)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	if s.liqSink != nil {
		for _, res := range results {
			s.liqSink(st.ConditionID, res)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settled": results})
}

type distributeRequest struct {
	User string `json:"user"`
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	var req distributeRequest
	if !decode(w, r, &req) {
		return
	}
	payout, err := st.DistributeWinnings(req.User)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"payout": payout})
}

// --- Read handlers ---

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sites": s.registry.Conditions()})
}

func (s *Server) handleSiteInfo(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	info, err := st.Info()
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	info, err := st.PositionOf(chi.URLParam(r, "user"))
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleMaxBorrowable(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	amount, err := st.MaxBorrowableOf(chi.URLParam(r, "user"))
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"max_borrowable": amount})
}

func (s *Server) handleMaxWithdrawable(w http.ResponseWriter, r *http.Request) {
	st, ok := s.siteFrom(w, r)
	if !ok {
		return
	}
	asset, err := parseAsset(r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	protected := r.URL.Query().Get("protected") == "true"
	amount, err := st.MaxWithdrawableOf(chi.URLParam(r, "user"), asset, protected)
	if err != nil {
		writeSiteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"max_withdrawable": amount})
}
