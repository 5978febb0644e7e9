package settled

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"contentpay/config"
	"contentpay/core/events"
	"contentpay/core/genesis"
	"contentpay/core/state"
	"contentpay/native/settlement"
	"contentpay/observability"
	"contentpay/observability/logging"
	telemetry "contentpay/observability/otel"
	"contentpay/services/settled/middleware"
	"contentpay/storage"
)

// Main initialises and runs the settlement daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/settled/config.yaml", "path to settled configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("CONTENTPAY_ENV"))
	logger, logCloser := logging.SetupWithFile("settled", env, logging.FileConfig{
		Path:       cfg.LogFile.Path,
		MaxSizeMB:  cfg.LogFile.MaxSizeMB,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAgeDays: cfg.LogFile.MaxAgeDays,
		Compress:   cfg.LogFile.Compress,
	})
	defer func() { _ = logCloser.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("settled", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	schedule, err := config.LoadFeeSchedule(cfg.FeeSchedulePath)
	if err != nil {
		return fmt.Errorf("load fee schedule: %w", err)
	}
	engine, err := settlement.NewEngine(schedule)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	ledger := state.NewManager(db, state.WithEmitter(events.FanOut{
		observability.Events(),
		eventLogger{logger: logger},
	}))
	if cfg.GenesisPath != "" {
		spec, err := genesis.LoadGenesisSpec(cfg.GenesisPath)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		applied, err := genesis.Apply(ledger, spec)
		if err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		if applied {
			logger.Info("genesis applied", "mints", len(spec.Mints), "holdings", len(spec.Holdings))
		}
	}

	adminAuth, err := middleware.NewAuthenticator(middleware.AuthConfig{
		BearerToken: cfg.Admin.BearerToken,
		JWTSecret:   cfg.Admin.JWT.HMACSecret,
		JWTIssuer:   cfg.Admin.JWT.Issuer,
		JWTAudience: cfg.Admin.JWT.Audience,
		JWTScope:    cfg.Admin.JWT.Scope,
		ClockSkew:   cfg.Admin.JWT.ClockSkew.Duration,
		AllowMTLS:   cfg.Admin.MTLS.Enabled,
	}, logger)
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}
	tlsConfig, err := serverTLSConfig(cfg)
	if err != nil {
		return err
	}

	processor := NewProcessor(engine, ledger, WithLogger(logger))
	server := NewServer(ServerConfig{
		Processor:            processor,
		Ledger:               ledger,
		Schedule:             schedule,
		RequireAuthorization: cfg.RequireAuthorization,
		AdminAuth:            adminAuth,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		LogRequests:  cfg.LogRequests,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       logger,
	})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server, "settled"),
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
		IdleTimeout:  cfg.HTTP.IdleTimeout.Duration,
		TLSConfig:    tlsConfig,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("settled listening", "address", cfg.ListenAddress, "backend", cfg.Storage.Backend, "tls", tlsConfig != nil)
		if tlsConfig != nil {
			errs <- httpServer.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// serverTLSConfig returns nil when the listener is plain HTTP. With admin
// mTLS enabled, client certificates are verified against the configured CA
// when presented; purchase clients may still connect without one.
func serverTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.TLS.CertPath == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.Admin.MTLS.Enabled {
		pem, err := os.ReadFile(cfg.Admin.MTLS.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read admin client_ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("admin client_ca %s holds no certificates", cfg.Admin.MTLS.ClientCAPath)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tlsConfig, nil
}

// eventLogger writes every committed ledger event to the structured log.
type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	l.logger.Info("ledger event",
		"component", "ledger",
		"type", rendered.Type,
		"sequence", rendered.Attributes["sequence"])
}
