// Command server runs the edge-state HTTP service together with the
// interaction expiry watcher and, when enabled, the orphan sweeper.
//
// Configuration comes from the environment (see internal/config). A .env file
// in the working directory is loaded first unless SKIP_DOTENV is truthy.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-edge-state/internal/activity"
	"github.com/tbourn/go-edge-state/internal/cache"
	"github.com/tbourn/go-edge-state/internal/clients"
	"github.com/tbourn/go-edge-state/internal/config"
	httpapi "github.com/tbourn/go-edge-state/internal/http"
	"github.com/tbourn/go-edge-state/internal/observability"
	"github.com/tbourn/go-edge-state/internal/otp"
	"github.com/tbourn/go-edge-state/internal/ratelimit"
	"github.com/tbourn/go-edge-state/internal/repo"
	"github.com/tbourn/go-edge-state/internal/services"
	"github.com/tbourn/go-edge-state/internal/sink"
	"github.com/tbourn/go-edge-state/internal/sysutil"
	"github.com/tbourn/go-edge-state/internal/token"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownGrace bounds how long in-flight requests and flushes may take once
// a termination signal arrives.
const shutdownGrace = 30 * time.Second

func main() {
	if !sysutil.IsTruthy(os.Getenv("SKIP_DOTENV")) {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msg("could not load .env")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	sysutil.NewLogger(os.Stdout, cfg.OTEL.ServiceName, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	rdb, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	if cfg.Redis.ConfigureNotifications {
		if err := cache.EnableExpiryEvents(ctx, rdb); err != nil {
			log.Warn().Err(err).Msg("could not enable expiry notifications; set notify-keyspace-events=Ex on the server")
		}
	}

	var db *gorm.DB
	if cfg.DBPath != "" {
		if db, err = repo.OpenSQLite(cfg.DBPath); err != nil {
			return err
		}
		if err := repo.AutoMigrate(db); err != nil {
			return err
		}
	}

	keys := cache.NewKeyspace(cfg.Keys)
	codec, err := token.NewCodec(cfg.TokenKey)
	if err != nil {
		return err
	}

	sinks := sink.Multi{sink.NewMarkdown(cfg.Activity.InteractionsDir)}
	if db != nil {
		sinks = append(sinks, sink.Records{DB: db})
	}

	var summarizer activity.Summarizer
	if cfg.SummarizerEnabled() {
		summarizer = clients.NewOpenRouter(cfg.Summarizer, cfg.Activity.SummaryMaxEvents)
	} else {
		log.Warn().Msg("OPENROUTER_API_KEY not set; summaries use the local fallback")
	}

	var mailer services.Mailer = clients.LogMailer{}
	if cfg.MailerEnabled() {
		mailer = clients.NewSendGrid(cfg.Mail)
	} else {
		log.Warn().Msg("SENDGRID_API_KEY not set; one-time codes are logged, not sent")
	}

	pipeline := activity.NewPipeline(rdb, keys, summarizer, sinks)
	pipeline.SummaryMaxEvents = cfg.Activity.SummaryMaxEvents

	watcher := activity.NewWatcher(rdb, keys, pipeline)
	watcher.Concurrency = cfg.Activity.FlushConcurrency
	watcher.ReconnectFloor = cfg.Activity.ReconnectFloor
	watcher.ReconnectCeil = cfg.Activity.ReconnectCeil

	sweeper := &activity.Sweeper{
		Client:   rdb,
		Keys:     keys,
		Flusher:  pipeline,
		Interval: cfg.Activity.SweepInterval,
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:     db,
		Guard:  ratelimit.NewGuard(ratelimit.NewLimiter(rdb, quartz.NewReal()), keys),
		Codec:  codec,
		Codes:  otp.NewStore(rdb, keys, cfg.OTPTTL),
		Mailer: mailer,
		Buffer: activity.NewBuffer(rdb, keys, cfg.Activity.InactivityWindow),
		Ping:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil {
			log.Error().Err(err).Msg("expiry watcher stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil {
			log.Error().Err(err).Msg("orphan sweeper stopped")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	// The watcher returns once its in-flight flushes finish; each is bounded
	// by its own flush timeout.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-sctx.Done():
		log.Warn().Msg("background workers did not stop within the grace period")
	}
	return nil
}
