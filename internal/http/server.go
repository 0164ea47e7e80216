package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/middleware/ratelimit"
	"receipts/internal/middleware/security"
	"receipts/internal/middleware/trace"
	"receipts/internal/recognize"
	"receipts/internal/services"
	appweb "receipts/web"
)

// ReceiptService is what the handlers need from the service layer.
// *services.ReceiptService satisfies it.
type ReceiptService interface {
	Recognize(ctx context.Context, upload []byte) (recognize.Extraction, error)
	Save(ctx context.Context, rc core.Receipt) (int64, error)
	Edit(ctx context.Context, rc core.Receipt) (int64, error)
	Patch(ctx context.Context, id int64, values map[string]string) (int64, error)
	Get(ctx context.Context, id int64) (core.Receipt, error)
	List(ctx context.Context, page int) (services.Page, error)
	Ready(ctx context.Context) error
}

// Options tune the server. Zero values take the defaults.
type Options struct {
	UploadMaxBytes int64
	RateLimit      int // POST requests per minute per client
	Logger         *log.Logger
}

const defaultUploadMaxBytes = 10 << 20

type Server struct {
	http.Server
	svc       ReceiptService
	templates *template.Template
	logger    *log.Logger
	uploadMax int64
	started   time.Time

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

var templateFuncs = template.FuncMap{
	"amount": core.FormatAmount,
	"when": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(core.TimeLayout)
	},
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run http.Server.
func NewServer(addr string, svc ReceiptService, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = defaultUploadMaxBytes
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = opts.RateLimit

	s := &Server{
		svc:       svc,
		templates: t,
		logger:    logger,
		uploadMax: opts.UploadMaxBytes,
		started:   time.Now(),
		limiter:   ratelimit.NewLimiter(rlCfg),
		detector:  security.NewDetector(logger.WithComponent(log.ComponentSecurity).Slog()),
	}
	s.tracer = trace.NewMiddleware(s.detector.ClientIP)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /{$}", s.handleUpload)
	mux.HandleFunc("GET /edit", s.handleEditForm)
	mux.HandleFunc("POST /edit", s.handleEdit)
	mux.HandleFunc("POST /save", s.handleSave)

	mux.HandleFunc("GET /api/receipts", s.handleAPIList)
	mux.HandleFunc("GET /api/receipts/{id}", s.handleAPIGet)
	mux.HandleFunc("PATCH /api/receipts/{id}", s.handleAPIPatch)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(static)))
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(fileServer))
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/vnd.microsoft.icon")
		http.ServeFileFS(w, r, static, "favicon.ico")
	})

	var h http.Handler = mux
	h = s.limiter.Middleware(s.detector.ClientIP, s.handleRateLimited)(h)
	h = s.detector.Middleware(h)
	h = security.Headers(security.DefaultHeadersConfig())(h)
	h = s.tracer.Middleware(h)
	h = log.Middleware(logger)(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// uploads plus a model round trip
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s, nil
}

// Shutdown gracefully shuts down the server and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
