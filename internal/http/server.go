package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"spendlog/internal/backend"
	"spendlog/internal/core"
	"spendlog/internal/currency"
	"spendlog/internal/inference"
	"spendlog/internal/ledger"
	"spendlog/internal/log"
	"spendlog/internal/middleware/ratelimit"
	"spendlog/internal/middleware/security"
	"spendlog/internal/middleware/trace"
	"spendlog/internal/session"
)

// Sessions opens and closes per-user sessions.
type Sessions interface {
	Open(ctx context.Context, userID string) (*session.Session, error)
	Close(userID string) error
	Mode() backend.Mode
	Len() int
}

// Options wires the server to its collaborators. Rates, Limiter and
// Detector are optional; without Rates the fallback table is used.
type Options struct {
	Sessions       Sessions
	Rates          *currency.Engine
	Limiter        *ratelimit.Limiter
	Detector       *security.Detector
	Headers        security.HeadersConfig
	Logger         *log.Logger
	Now            func() time.Time
	ReadyTimeout   time.Duration
	InferTimeout   time.Duration
	RefreshTimeout time.Duration
}

type Server struct {
	http.Server
	sessions Sessions
	rates    *currency.Engine
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger
	now      func() time.Time

	readyTimeout   time.Duration
	inferTimeout   time.Duration
	refreshTimeout time.Duration
	started        time.Time
}

func NewServer(addr string, opts Options) *Server {
	logger := log.OrDiscard(opts.Logger).WithComponent(log.ComponentHTTP)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	detector := opts.Detector
	if detector == nil {
		detector = security.NewDetector(false, logger)
	}
	rates := opts.Rates
	if rates == nil {
		rates = currency.NewEngine(currency.WithLogger(logger))
	}
	s := &Server{
		sessions:       opts.Sessions,
		rates:          rates,
		limiter:        opts.Limiter,
		detector:       detector,
		tracer:         trace.NewMiddleware(logger, detector.ClientIP),
		logger:         logger,
		now:            now,
		readyTimeout:   durationOr(opts.ReadyTimeout, 5*time.Second),
		inferTimeout:   durationOr(opts.InferTimeout, 30*time.Second),
		refreshTimeout: durationOr(opts.RefreshTimeout, 15*time.Second),
		started:        now(),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	headers := opts.Headers
	if headers == (security.HeadersConfig{}) {
		headers = security.DefaultHeadersConfig()
	}
	var handler http.Handler = mux
	handler = detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(headers).Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Addr = addr
	s.Handler = handler
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 45 * time.Second
	s.IdleTimeout = 60 * time.Second
	s.MaxHeaderBytes = 1 << 16
	return s
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/session", s.withSession(s.handleSessionInfo))
	mux.HandleFunc("DELETE /api/session", s.handleLogout)
	mux.HandleFunc("GET /api/notifications", s.withSession(s.handleNotifications))

	mux.HandleFunc("GET /api/ledger", s.withSession(s.handleLedger))
	mux.HandleFunc("POST /api/ledger/refetch", s.withSession(s.handleRefetch))

	mux.HandleFunc("POST /api/trips", s.withSession(s.handleCreateTrip))
	mux.HandleFunc("PUT /api/trips/{tripID}", s.withSession(s.handleUpdateTrip))
	mux.HandleFunc("DELETE /api/trips/{tripID}", s.withSession(s.handleDeleteTrip))
	mux.HandleFunc("PUT /api/default-trip", s.withSession(s.handleSetDefaultTrip))
	mux.HandleFunc("GET /api/trips/{tripID}/stats", s.withSession(s.handleTripStats))

	mux.HandleFunc("GET /api/trips/{tripID}/expenses", s.withSession(s.handleListExpenses))
	mux.HandleFunc("POST /api/trips/{tripID}/expenses", s.withSession(s.handleCreateExpense))
	mux.HandleFunc("PUT /api/trips/{tripID}/expenses/{expenseID}", s.withSession(s.handleUpdateExpense))
	mux.HandleFunc("DELETE /api/trips/{tripID}/expenses/{expenseID}", s.withSession(s.handleDeleteExpense))

	quick := http.Handler(s.withSession(s.handleQuickExpense))
	if s.limiter != nil {
		quick = s.limiter.Middleware(s.rateKey, nil)(quick)
	}
	mux.Handle("POST /api/trips/{tripID}/quick-expense", quick)

	mux.HandleFunc("POST /api/categories", s.withSession(s.handleCreateCategory))
	mux.HandleFunc("PUT /api/categories/{categoryID}", s.withSession(s.handleUpdateCategory))
	mux.HandleFunc("DELETE /api/categories/{categoryID}", s.withSession(s.handleDeleteCategory))

	mux.HandleFunc("GET /api/rates", s.handleRates)
	mux.HandleFunc("POST /api/rates/refresh", s.handleRefreshRates)
	mux.HandleFunc("GET /api/convert", s.handleConvert)
}

// rateKey limits signed-in callers per user and anonymous ones per address.
func (s *Server) rateKey(r *http.Request) string {
	if id, err := UserID(r); err == nil {
		return "user:" + id
	}
	return "ip:" + s.detector.ClientIP(r)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withSession opens (or reuses) the caller's session and waits briefly for
// its first snapshot before running h.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserID(r)
		if err != nil {
			ErrorResponse(http.StatusUnauthorized, err.Error()).Write(w)
			return
		}
		sess, err := s.sessions.Open(r.Context(), userID)
		if err != nil {
			s.writeError(w, r, err, http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
		defer cancel()
		if err := sess.WaitReady(ctx); err != nil {
			s.writeError(w, r, err, http.StatusServiceUnavailable)
			return
		}
		h(w, r, sess)
	}
}

// statusFor maps domain errors to HTTP status codes. Not-found checks come
// first because they also match the validation root.
func statusFor(err error, fallback int) int {
	switch {
	case core.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, inference.ErrInvalidSuggestion):
		return http.StatusBadGateway
	case errors.Is(err, inference.ErrEmptyPrompt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrValidation), errors.Is(err, currency.ErrUnknownCurrency):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inference.ErrUnavailable),
		errors.Is(err, ledger.ErrNotLoaded),
		errors.Is(err, ledger.ErrClosed),
		errors.Is(err, session.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrEmptyUser):
		return http.StatusUnauthorized
	default:
		return fallback
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback int) {
	status := statusFor(err, fallback)
	if status >= 500 {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	NewResponse().Status(status).JSON(ErrorBody{
		Error:     err.Error(),
		RequestID: trace.RequestID(r.Context()),
	}).Write(w)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", log.FieldOperation, log.OpShutdown)
	return s.Server.Shutdown(ctx)
}
