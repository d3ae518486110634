package httpserver

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"burnbin/internal/paste"
	"burnbin/web"
)

// Config captures server configuration.
type Config struct {
	Engine     *paste.Service
	TrustProxy bool
	BaseURL    string
	Logger     *slog.Logger
	// TestMode lets the x-test-now-ms header override the clock per request.
	TestMode bool
	// CORSOrigins lists origins allowed to call /api from a browser.
	// Empty disables CORS handling.
	CORSOrigins []string
}

// Server wraps HTTP handling logic.
type Server struct {
	engine      *paste.Service
	router      chi.Router
	templates   *template.Template
	trustProxy  bool
	baseURL     *url.URL
	logger      *slog.Logger
	testMode    bool
	corsOrigins []string
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine required")
	}
	tmpl, err := template.New("layout").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "Never"
			}
			return t.Local().Format(time.RFC1123)
		},
		"formatSize": func(size int) string {
			if size < 1024 {
				return fmt.Sprintf("%d B", size)
			}
			const unit = 1024.0
			kb := float64(size)
			for _, suffix := range []string{"KB", "MB", "GB"} {
				kb /= unit
				if kb < unit {
					return fmt.Sprintf("%.1f %s", kb, suffix)
				}
			}
			return fmt.Sprintf("%d B", size)
		},
		"deref": func(v *int) int {
			if v == nil {
				return 0
			}
			return *v
		},
	}).ParseFS(web.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		engine:      cfg.Engine,
		router:      chi.NewRouter(),
		templates:   tmpl,
		trustProxy:  cfg.TrustProxy,
		baseURL:     parsedBase,
		logger:      cfg.Logger,
		testMode:    cfg.TestMode,
		corsOrigins: cfg.CORSOrigins,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(MetricsMiddleware)
	r.Use(TestClockMiddleware(s.testMode))
	r.Use(middleware.Compress(5, "text/html", "text/plain", "application/json", "text/css"))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	fileServer := http.FileServer(http.FS(web.Static))
	r.Handle("/static/*", fileServer)

	r.Get("/", s.handleIndex)
	r.Post("/pastes", s.handleCreate)

	r.Route("/p/{id}", func(pr chi.Router) {
		pr.Get("/", s.handleView)
		pr.Get("/raw", s.handleRaw)
		pr.Get("/qr", s.handleQR)
	})

	r.Route("/api", func(ar chi.Router) {
		if len(s.corsOrigins) > 0 {
			ar.Use(cors.Handler(cors.Options{
				AllowedOrigins:   s.corsOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", TestNowHeader},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		ar.Post("/pastes", s.handleAPICreate)
		ar.Get("/pastes/{id}", s.handleAPIFetch)
		ar.Get("/healthz", handleHealth)
	})

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

func (s *Server) canonicalURL(r *http.Request, id string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		if id != "" {
			u.Path = strings.TrimSuffix(u.Path, "/") + paste.PathFor(id)
		}
		return u.String()
	}

	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	path := "/"
	if id != "" {
		path = paste.PathFor(id)
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

// nowFor returns the clock reading a request should be judged against.
func (s *Server) nowFor(r *http.Request) time.Time {
	if t, ok := testNowFromContext(r.Context()); ok {
		return t
	}
	return s.engine.Now()
}
