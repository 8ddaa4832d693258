package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"governance-gateway/middleware/governance"
	"governance-gateway/middleware/governance/application"
	"governance-gateway/middleware/governance/domain"
	"governance-gateway/middleware/governance/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
	"pkt.systems/pslog"
)

func main() {
	logger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("GATEWAY_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "gateway", "instance", xid.New().String())

	if err := newRootCommand(logger).Execute(); err != nil {
		logger.Error("gateway.exit", "error", err)
		os.Exit(1)
	}
}

func run(parent context.Context, cfg config, logger pslog.Logger) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return errors.New("invalid UPSTREAM_URL: " + err.Error())
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy.error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	settings, err := infra.NewFileSettings(cfg.settingsFile, infra.WithSettingsLogger(logger))
	if err != nil {
		return err
	}
	settings.Watch()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.redisAddr,
		Password: cfg.redisPassword,
		DB:       cfg.redisDB,
	})
	defer func() { _ = rdb.Close() }()

	store := infra.NewRedisStore(rdb, infra.WithKeyPrefix(cfg.redisPrefix))
	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	err = store.Ping(pingCtx)
	pingCancel()
	if err != nil {
		// sobe mesmo assim: cada etapa aplica seu fail open/closed enquanto o Redis volta
		logger.Warn("redis.ping.failed", "addr", cfg.redisAddr, "error", err)
	}

	var (
		rules domain.RuleSource = settings
		users domain.UserDirectory
	)
	if cfg.databaseURL != "" {
		db, err := infra.OpenPostgres(cfg.databaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		rules = infra.NewPostgresRuleSource(db, cfg.ruleTable)
		users = infra.NewPostgresUserDirectory(db)
	}

	local := infra.NewLocalLimiter()
	local.StartJanitor(ctx)

	locks := application.NewLockManager(store, application.WithLockLogger(logger))
	lockoutOpts := []application.LockoutOption{application.WithLockoutLogger(logger)}
	if users != nil {
		lockoutOpts = append(lockoutOpts, application.WithUserDirectory(users))
	}
	lockout := application.NewLockoutTracker(store, locks, settings, lockoutOpts...)

	ipEval := application.NewIPEvaluator(rules, settings, application.WithIPLogger(logger))
	go ipEval.Run(ctx)

	limiter := application.NewRateLimiter(store,
		application.WithLocalFallback(local),
		application.WithRateLogger(logger),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promStats, err := infra.NewPrometheusStats(reg)
	if err != nil {
		return err
	}
	stats := infra.MultiStats{promStats}
	if cfg.statsEnabled {
		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		))
	}

	pipeline := application.Pipeline{
		Resolver:   application.NewScopeResolver(settings),
		IP:         ipEval,
		Limiter:    limiter,
		Lockout:    lockout,
		Settings:   settings,
		Stats:      stats,
		Logger:     logger,
		RetryAfter: cfg.retryAfter,
	}

	mux := http.NewServeMux()
	mux.Handle("/", proxy)
	if cfg.loginPath != "" {
		mux.Handle(cfg.loginPath, governance.LoginGuard(governance.LoginOptions{
			Pipeline:      pipeline,
			UsernameField: cfg.loginUsernameField,
			Logger:        logger,
		})(proxy))
	}

	h := http.Handler(mux)
	h = governance.ConcurrencyMiddleware(governance.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
		RetryAfter:     cfg.retryAfter,
	})(h)
	h = governance.Middleware(governance.Options{
		Pipeline:            pipeline,
		TrustedIPHeader:     cfg.trustedIPHeader,
		TrustXForwardedFor:  cfg.trustXFF,
		AddRateLimitHeaders: cfg.addHeaders,
		Logger:              logger,
	})(h)

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	adminMux.Handle("/admin/lockout/unlock", governance.UnlockHandler(lockout, logger))
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !ipEval.Loaded() {
			http.Error(w, "ip rules not loaded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	adminSrv := &http.Server{
		Addr:              cfg.adminListen,
		Handler:           adminMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	if cfg.adminListen != "" {
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin.serve.failed", "error", err)
			}
		}()
	}

	logger.Info("gateway.listening", "listen", cfg.listenAddr, "upstream", target.String(), "admin", cfg.adminListen)
	logger.Info("gateway.settings", "file", cfg.settingsFile, "policies", len(settings.RatePolicies()),
		"lockout_threshold", settings.Lockout().Threshold, "trust_xff", cfg.trustXFF)
	logger.Info("gateway.concurrency", "max", cfg.concurrencyMax, "acquire_timeout", cfg.concurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
