package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"
)

type config struct {
	listenAddr         string
	adminListen        string
	upstreamURL        string
	settingsFile       string
	trustedIPHeader    string
	trustXFF           bool
	retryAfter         time.Duration
	addHeaders         bool
	concurrencyMax     int
	concurrencyTimeout time.Duration
	loginPath          string
	loginUsernameField string

	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string

	databaseURL string
	ruleTable   string

	statsEnabled   bool
	statsPrefix    string
	statsTTL       time.Duration
	statsBucket    string
	statsTrackKeys bool
}

// flagEnv liga cada flag à variável de ambiente de mesmo significado.
var flagEnv = map[string]string{
	"listen":               "LISTEN_ADDR",
	"admin-listen":         "ADMIN_LISTEN_ADDR",
	"upstream":             "UPSTREAM_URL",
	"settings":             "GOVERNANCE_SETTINGS",
	"trusted-ip-header":    "TRUSTED_IP_HEADER",
	"trust-xff":            "TRUST_XFF",
	"retry-after":          "RETRY_AFTER",
	"ratelimit-headers":    "ADD_RATELIMIT_HEADERS",
	"concurrency-max":      "CONCURRENCY_MAX",
	"concurrency-timeout":  "CONCURRENCY_TIMEOUT",
	"login-path":           "LOGIN_PATH",
	"login-username-field": "LOGIN_USERNAME_FIELD",
	"redis-addr":           "REDIS_ADDR",
	"redis-password":       "REDIS_PASSWORD",
	"redis-db":             "REDIS_DB",
	"redis-prefix":         "REDIS_PREFIX",
	"database-url":         "DATABASE_URL",
	"rule-table":           "IP_RULE_TABLE",
	"stats-enabled":        "RATE_STATS_ENABLED",
	"stats-prefix":         "RATE_STATS_PREFIX",
	"stats-ttl":            "RATE_STATS_TTL",
	"stats-bucket":         "RATE_STATS_BUCKET",
	"stats-track-keys":     "RATE_STATS_TRACK_KEYS",
}

func newRootCommand(logger pslog.Logger) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Reverse proxy with distributed traffic governance (ip rules, rate limits, login lockout)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}

	f := cmd.Flags()
	f.String("listen", ":8080", "address the gateway listens on")
	f.String("admin-listen", ":9090", "address for /metrics, /healthz and admin endpoints (empty disables)")
	f.String("upstream", "", "upstream base URL")
	f.String("settings", "governance.yaml", "governance settings file (watched for changes)")
	f.String("trusted-ip-header", "", "header set by the load balancer with the client IP")
	f.Bool("trust-xff", false, "use the first X-Forwarded-For address as client IP")
	f.Duration("retry-after", time.Second, "default Retry-After for rejected requests")
	f.Bool("ratelimit-headers", false, "add X-RateLimit-* headers")
	f.Int("concurrency-max", 100, "max in-flight requests per instance (0 disables)")
	f.Duration("concurrency-timeout", 0, "how long to wait for an in-flight slot")
	f.String("login-path", "", "login route guarded by the lockout tracker (empty disables)")
	f.String("login-username-field", "username", "body field carrying the username")
	f.String("redis-addr", "localhost:6379", "coordination store address")
	f.String("redis-password", "", "coordination store password")
	f.Int("redis-db", 0, "coordination store database")
	f.String("redis-prefix", "governance", "key prefix in the coordination store")
	f.String("database-url", "", "postgres DSN of the administration store (ip rules, users)")
	f.String("rule-table", "ip_rules", "table holding ip rules")
	f.Bool("stats-enabled", false, "record decision statistics in redis")
	f.String("stats-prefix", "governance:stats", "redis key prefix for statistics")
	f.Duration("stats-ttl", 24*time.Hour, "ttl of per-minute and per-key statistics")
	f.String("stats-bucket", "minute", "statistics time bucket: minute or none")
	f.Bool("stats-track-keys", false, "record statistics per limiter key (high cardinality)")

	bindFlags(v, f)
	return cmd
}

func bindFlags(v *viper.Viper, f *pflag.FlagSet) {
	f.VisitAll(func(fl *pflag.Flag) {
		_ = v.BindPFlag(fl.Name, fl)
		if env, ok := flagEnv[fl.Name]; ok {
			_ = v.BindEnv(fl.Name, env)
		}
	})
}

func readConfig(v *viper.Viper) (config, error) {
	cfg := config{
		listenAddr:         v.GetString("listen"),
		adminListen:        v.GetString("admin-listen"),
		upstreamURL:        strings.TrimSpace(v.GetString("upstream")),
		settingsFile:       v.GetString("settings"),
		trustedIPHeader:    v.GetString("trusted-ip-header"),
		trustXFF:           v.GetBool("trust-xff"),
		retryAfter:         v.GetDuration("retry-after"),
		addHeaders:         v.GetBool("ratelimit-headers"),
		concurrencyMax:     v.GetInt("concurrency-max"),
		concurrencyTimeout: v.GetDuration("concurrency-timeout"),
		loginPath:          v.GetString("login-path"),
		loginUsernameField: v.GetString("login-username-field"),
		redisAddr:          v.GetString("redis-addr"),
		redisPassword:      v.GetString("redis-password"),
		redisDB:            v.GetInt("redis-db"),
		redisPrefix:        v.GetString("redis-prefix"),
		databaseURL:        v.GetString("database-url"),
		ruleTable:          v.GetString("rule-table"),
		statsEnabled:       v.GetBool("stats-enabled"),
		statsPrefix:        v.GetString("stats-prefix"),
		statsTTL:           v.GetDuration("stats-ttl"),
		statsBucket:        v.GetString("stats-bucket"),
		statsTrackKeys:     v.GetBool("stats-track-keys"),
	}

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if strings.TrimSpace(cfg.settingsFile) == "" {
		return config{}, errors.New("GOVERNANCE_SETTINGS is required")
	}
	if strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.retryAfter < 0 {
		return config{}, errors.New("RETRY_AFTER must be >= 0")
	}
	return cfg, nil
}
