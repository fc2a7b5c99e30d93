// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and the Redis-backed rate-limit gate.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe middleware ordering (RequestID → logging → recovery)
//   - All infrastructure injected through Deps; services are assembled here
//   - Cookie-friendly CORS: credentials are allowed only with an allowlist
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/config"
	"github.com/tbourn/go-edge-state/internal/domain"
	"github.com/tbourn/go-edge-state/internal/http/handlers"
	"github.com/tbourn/go-edge-state/internal/http/middleware"
	"github.com/tbourn/go-edge-state/internal/repo"
	"github.com/tbourn/go-edge-state/internal/services"
	"github.com/tbourn/go-edge-state/internal/token"
)

// maxBodyBytes caps request bodies; event batches are the largest payload.
const maxBodyBytes = 1 << 20

// Deps carries the infrastructure the routes are built on.
type Deps struct {
	// DB holds flush records; nil disables the record endpoints' storage.
	DB *gorm.DB
	// Guard enforces rate-limit rules (*ratelimit.Guard in production).
	Guard middleware.RateChecker
	// Codec signs cookie values.
	Codec *token.Codec
	// Codes issues and consumes one-time codes (*otp.Store).
	Codes services.CodeStore
	// Mailer delivers one-time codes.
	Mailer services.Mailer
	// Buffer appends interaction events (*activity.Buffer).
	Buffer services.EventAppender
	// Ping reports cache health for /health; nil skips the check.
	Ping func(ctx context.Context) error
}

// recordRepoShim adapts the repository free functions to the
// services.RecordRepo interface expected by the RecordService.
type recordRepoShim struct{}

// CountFlushRecords proxies repo.CountFlushRecords.
func (recordRepoShim) CountFlushRecords(ctx context.Context, db *gorm.DB, interactionID string) (int64, error) {
	return repo.CountFlushRecords(ctx, db, interactionID)
}

// ListFlushRecordsPage proxies repo.ListFlushRecordsPage.
func (recordRepoShim) ListFlushRecordsPage(ctx context.Context, db *gorm.DB, interactionID string, offset, limit int) ([]domain.FlushRecord, error) {
	return repo.ListFlushRecordsPage(ctx, db, interactionID, offset, limit)
}

// GetFlushRecord proxies repo.GetFlushRecord.
func (recordRepoShim) GetFlushRecord(ctx context.Context, db *gorm.DB, id string) (*domain.FlushRecord, error) {
	return repo.GetFlushRecord(ctx, db, id)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger or RedactingLogger (LOG_REDACT)
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// The e-mail endpoints additionally sit behind a per-IP-bucket gate so a
// single network cannot fan code requests out over many addresses.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())

	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
		}))
	} else {
		r.Use(middleware.Logger())
	}

	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)

	// Every API response may carry a token cookie, so nothing is cacheable.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(deps.Ping))

	// Dependency injection: services ← infrastructure
	onboardingSvc := services.NewOnboardingService(deps.Guard, deps.Codec, deps.Codes, deps.Mailer, cfg.Rate, cfg.OTPTTL)
	auditSvc := services.NewAuditService(deps.Buffer, cfg.Activity.MaxBatch)
	recordSvc := services.NewRecordService(deps.DB, recordRepoShim{})

	h := handlers.New(onboardingSvc, auditSvc, recordSvc)
	h.Cookies.NonceTTL = cfg.OTPTTL

	emailGate := middleware.RateLimit(deps.Guard, middleware.RateLimitOptions{
		Dimension: cache.DimIP,
		Limit:     cfg.Rate.IPLimit,
		Window:    cfg.Rate.Window,
		Key:       middleware.KeyWithPrefix("email:", middleware.KeyByIPBucket()),
	})

	batchGuard := middleware.NewFloodGuard(cfg.Rate.BatchRPS, cfg.Rate.BatchBurst,
		middleware.KeyWithPrefix("batch:", middleware.KeyByIPBucket()), nil)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Onboarding
		api.POST("/onboarding/preparation", h.Prepare)
		email := api.Group("/onboarding/email", emailGate)
		email.POST("/code", h.SendEmailCode)
		email.POST("/verify", h.VerifyEmailCode)

		// Audit
		api.POST("/audit/init", h.InitAudit)
		api.POST("/audit/batch", batchGuard.Handler(), h.AuditBatch)
		api.GET("/audit/interactions/:id/records", h.ListRecords)
		api.GET("/audit/records/:id", h.GetRecord)
	}
}

// corsMiddleware returns the CORS posture. With no allowlist every origin is
// accepted without credentials, which keeps simple health checks and
// cookie-less clients working; browsers that need the identity cookies must
// be listed in CORS_ALLOWED_ORIGINS.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	methods := []string{"GET", "POST", "OPTIONS"}
	headers := []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}
	exposed := []string{"X-Request-ID", "Retry-After", "Content-Length"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     headers,
				ExposeHeaders:    exposed,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     headers,
			ExposeHeaders:    exposed,
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// health reports liveness, and cache reachability when ping is set. The
// limiter fails closed, so an unreachable cache means the service is
// effectively refusing traffic.
func health(ping func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("health: cache unreachable")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "cache": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
