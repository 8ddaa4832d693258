package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"governance-gateway/middleware/governance"
	"governance-gateway/middleware/governance/application"
	"governance-gateway/middleware/governance/domain"
	"governance-gateway/middleware/governance/infra"

	"pkt.systems/pslog"
)

func main() {
	// Exemplo: governança embutida no seu webserver (sem proxy), com store em memória.
	// Serve para instância única; com várias instâncias use o Redis (cmd/gateway).
	logger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("EXAMPLE_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.InfoLevel}),
	).With("app", "example-server")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings := infra.NewStaticSettings()
	settings.SetPolicies(
		domain.RatePolicy{ID: "per-ip", Kind: domain.PolicyFixedWindow, Scope: domain.ScopeIP, Limit: 20, Window: time.Second},
		domain.RatePolicy{ID: "per-tenant", Kind: domain.PolicyTokenBucket, Scope: domain.ScopeTenant, Capacity: 10, RefillRate: 5},
	)
	settings.SetRules(domain.IPRule{ID: "docs", CIDR: "192.0.2.0/24", Type: domain.RuleDeny, Enabled: true})

	store := infra.NewMemoryStore()
	locks := application.NewLockManager(store, application.WithLockLogger(logger))
	ipEval := application.NewIPEvaluator(settings, settings, application.WithIPLogger(logger))
	go ipEval.Run(ctx)

	pipeline := application.Pipeline{
		Resolver: application.NewScopeResolver(settings),
		IP:       ipEval,
		Limiter:  application.NewRateLimiter(store, application.WithRateLogger(logger)),
		Lockout:  application.NewLockoutTracker(store, locks, settings, application.WithLockoutLogger(logger)),
		Settings: settings,
		Stats:    infra.NewMemoryStatsStore(),
		Logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	// login de brinquedo: senha "secret" para qualquer usuário
	login := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password != "secret" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/login", governance.LoginGuard(governance.LoginOptions{Pipeline: pipeline, Logger: logger})(login))

	h := http.Handler(mux)
	h = governance.ConcurrencyMiddleware(governance.ConcurrencyOptions{Max: 50})(h)
	h = governance.Middleware(governance.Options{
		Pipeline:            pipeline,
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
		Logger:              logger,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example.listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("example.serve.failed", "error", err)
		os.Exit(1)
	}
}
