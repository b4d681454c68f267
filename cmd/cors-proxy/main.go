package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/handler"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/middleware"
	"cors-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// adminEcho is the health/metrics listener, kept apart from the proxy's
// catch-all route.
type adminEcho struct {
	*echo.Echo
}

func main() {
	// .env must be in the environment before kong resolves env-backed flags.
	dotenvErr := godotenv.Load()

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("cors-proxy"),
		kong.Description("Forwarding proxy that adds permissive CORS headers to any HTTP API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			fx.Annotate(client.NewUpstreamClient, fx.As(new(service.Upstream))),
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newEcho,
			newAdminEcho,
		),
		fx.Invoke(
			func(logger *slog.Logger) { reportDotenv(logger, dotenvErr) },
			warnConfigPermissions,
			handler.RegisterRoutes,
			registerAdminRoutes,
			startServer,
			startAdminServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewErrorHandler(logger)

	// No ReadTimeout or WriteTimeout: bodies are buffered and upstream calls
	// may legitimately run long. Header and idle timeouts still apply.
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 120 * time.Second

	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("panic recovered",
				"err", err,
				"path", c.Request().URL.Path,
				"stack", string(stack),
			)
			return err
		},
	}))
	e.Use(middleware.CORS(m))

	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
		logger.Info("request body limit enabled", "bytes", cfg.Server.BodyMaxBytes)
	}

	return e
}

func newAdminEcho(logger *slog.Logger) adminEcho {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger.With("listener", "admin")))
	e.Use(middleware.AdminHeaders())

	return adminEcho{e}
}

func registerAdminRoutes(a adminEcho, health *handler.HealthHandler, m *metrics.Metrics, cfg *config.Config) {
	handler.RegisterAdminRoutes(a.Echo, health, m, cfg)
}

func reportDotenv(logger *slog.Logger, err error) {
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("loading .env file", "err", err)
	}
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	if cfg.FilePath() == "" {
		logger.Info("no config file found; using flags, environment and defaults")
		return
	}
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	appendServerHook(lc, e, cfg.Server.Addr(), logger.With("listener", "proxy"))
}

func startAdminServer(lc fx.Lifecycle, a adminEcho, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	appendServerHook(lc, a.Echo, cfg.Admin.Addr(), logger.With("listener", "admin"))
}

func appendServerHook(lc fx.Lifecycle, e *echo.Echo, addr string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				logger.Error("failed to start server", "addr", addr, "err", err)
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
