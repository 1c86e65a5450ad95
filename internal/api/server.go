// Package api serves ShopPipe's admin HTTP API: products, orders, catalog
// import, health, metrics and the Twilio inbound webhook.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/ShopPipe/internal/importer"
	"github.com/BTreeMap/ShopPipe/internal/metrics"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/orders"
)

// DefaultAddr is the admin API listen address.
const DefaultAddr = ":8080"

// ProductService is the catalog surface the API needs.
type ProductService interface {
	ActiveProducts(ctx context.Context) ([]models.Product, error)
	Product(id int64) (*models.Product, error)
	Create(ctx context.Context, p models.Product) (*models.Product, error)
	Update(ctx context.Context, p models.Product) (*models.Product, error)
	Deactivate(ctx context.Context, id int64) error
}

// OrderService is the order surface the API needs.
type OrderService interface {
	List() ([]models.Order, error)
	Get(id string) (*models.Order, error)
	Create(ctx context.Context, phone string, lines []orders.LineRequest, address string) (*models.Order, error)
	UpdateStatus(id string, status models.OrderStatus) (*models.Order, error)
}

// CatalogImporter loads products from an uploaded document.
type CatalogImporter interface {
	Import(ctx context.Context, format importer.Format, r io.Reader) (importer.Result, error)
}

// Opts holds the optional collaborators of a Server.
type Opts struct {
	Addr        string
	JWTSecret   []byte
	AdminUser   string
	AdminHash   []byte
	Limiter     RateLimiter
	RateLimit   int
	RateWindow  time.Duration
	Metrics     *metrics.Metrics
	Webhook     http.HandlerFunc
	Clock       func() time.Time
	MaxUploadMB int64
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr overrides DefaultAddr.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithJWTSecret sets the HMAC secret for admin tokens.
func WithJWTSecret(secret string) Option {
	return func(o *Opts) { o.JWTSecret = []byte(secret) }
}

// WithAdmin sets the credentials accepted by the token endpoint. hash is a
// bcrypt hash.
func WithAdmin(user, hash string) Option {
	return func(o *Opts) {
		o.AdminUser = user
		o.AdminHash = []byte(hash)
	}
}

// WithRateLimiter enables per-IP rate limiting on /api/v1.
func WithRateLimiter(l RateLimiter, limit int, window time.Duration) Option {
	return func(o *Opts) {
		o.Limiter = l
		o.RateLimit = limit
		o.RateWindow = window
	}
}

// WithMetrics records request durations and exposes /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithTwilioWebhook mounts h at POST /webhooks/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.Webhook = h }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Server is the admin API.
type Server struct {
	products  ProductService
	orders    OrderService
	importer  CatalogImporter
	jwtSecret []byte
	adminUser string
	adminHash []byte
	now       func() time.Time
	maxUpload int64

	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the gin engine and registers every route.
func NewServer(products ProductService, orderSvc OrderService, imp CatalogImporter, opts ...Option) (*Server, error) {
	cfg := Opts{Addr: DefaultAddr, RateLimit: DefaultRateLimit, RateWindow: DefaultRateWindow, Clock: time.Now, MaxUploadMB: 20}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("api: JWT secret is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Server{
		products:  products,
		orders:    orderSvc,
		importer:  imp,
		jwtSecret: cfg.JWTSecret,
		adminUser: cfg.AdminUser,
		adminHash: cfg.AdminHash,
		now:       cfg.Clock,
		maxUpload: cfg.MaxUploadMB << 20,
	}
	s.engine = s.routes(cfg)
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s.srv = &http.Server{Addr: cfg.Addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *Server) routes(cfg Opts) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger(), gin.Recovery(), requestID(), cfg.Metrics.Middleware())
	r.NoRoute(func(c *gin.Context) { writeJSON(c, http.StatusNotFound, models.Error("route not found")) })
	r.NoMethod(func(c *gin.Context) { writeJSON(c, http.StatusMethodNotAllowed, models.Error("method not allowed")) })

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	if cfg.Webhook != nil {
		r.POST("/webhooks/twilio", gin.WrapF(cfg.Webhook))
	}
	r.POST("/api/v1/auth/token", s.tokenHandler)

	v1 := r.Group("/api/v1")
	if cfg.Limiter != nil {
		v1.Use(rateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow))
	} else {
		slog.Warn("Server.routes: no rate limiter configured, /api/v1 is unthrottled")
	}
	v1.Use(s.authRequired())

	v1.GET("/products", s.listProducts)
	v1.POST("/products", s.createProduct)
	v1.POST("/products/import", s.importProducts)
	v1.PUT("/products/:id", s.updateProduct)
	v1.DELETE("/products/:id", s.deleteProduct)

	v1.GET("/orders", s.listOrders)
	v1.POST("/orders", s.createOrder)
	v1.GET("/orders/:id", s.getOrder)
	v1.PATCH("/orders/:id/status", s.updateOrderStatus)
	return r
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	slog.Info("Server.Start: admin API listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
