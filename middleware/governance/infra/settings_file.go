package infra

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"governance-gateway/middleware/governance/domain"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"pkt.systems/pslog"
)

// FileSettings lê a configuração de governança de um arquivo (YAML/JSON/TOML) via viper.
//
// O arquivo é convertido num snapshot imutável guardado em atomic.Pointer; com Watch
// ativo, cada alteração gera um snapshot novo e os componentes passam a vê-lo na
// próxima chamada. Um arquivo inválido mantém o snapshot anterior.
type FileSettings struct {
	v      *viper.Viper
	logger pslog.Logger
	snap   atomic.Pointer[settingsSnapshot]
}

type settingsSnapshot struct {
	lockout  domain.LockoutSettings
	policies []domain.RatePolicy
	tenant   domain.TenantSettings
	ip       domain.IPSettings
	rules    []domain.IPRule
}

type fileConfig struct {
	Lockout struct {
		Enabled   *bool         `mapstructure:"enabled"`
		Threshold int           `mapstructure:"threshold"`
		Duration  time.Duration `mapstructure:"duration"`
		Grace     time.Duration `mapstructure:"grace"`
	} `mapstructure:"lockout"`
	Tenant struct {
		Header        string `mapstructure:"header"`
		DomainFormat  string `mapstructure:"domain_format"`
		QueryParam    string `mapstructure:"query_param"`
		DefaultTenant string `mapstructure:"default_tenant"`
		ClientHeader  string `mapstructure:"client_header"`
	} `mapstructure:"tenant"`
	IP struct {
		RefreshInterval time.Duration `mapstructure:"refresh_interval"`
		FailureMode     string        `mapstructure:"failure_mode"`
		Rules           []fileRule    `mapstructure:"rules"`
	} `mapstructure:"ip"`
	Rate struct {
		Policies []filePolicy `mapstructure:"policies"`
	} `mapstructure:"rate"`
}

type fileRule struct {
	ID        string `mapstructure:"id"`
	CIDR      string `mapstructure:"cidr"`
	Type      string `mapstructure:"type"`
	Enabled   *bool  `mapstructure:"enabled"`
	ExpiresAt string `mapstructure:"expires_at"`
	TenantID  string `mapstructure:"tenant_id"`
}

type filePolicy struct {
	ID          string        `mapstructure:"id"`
	Kind        string        `mapstructure:"kind"`
	Scope       string        `mapstructure:"scope"`
	Limit       int64         `mapstructure:"limit"`
	Window      time.Duration `mapstructure:"window"`
	Capacity    int64         `mapstructure:"capacity"`
	RefillRate  float64       `mapstructure:"refill_per_second"`
	FailureMode string        `mapstructure:"failure_mode"`
	Routes      []string      `mapstructure:"routes"`
}

type FileSettingsOption func(*FileSettings)

func WithSettingsLogger(l pslog.Logger) FileSettingsOption {
	return func(s *FileSettings) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFileSettings carrega o arquivo em `path`. Variáveis GOVERNANCE_* sobrescrevem
// chaves escalares (ex: GOVERNANCE_LOCKOUT_THRESHOLD=10).
func NewFileSettings(path string, opts ...FileSettingsOption) (*FileSettings, error) {
	s := &FileSettings{v: viper.New(), logger: pslog.NoopLogger()}
	for _, opt := range opts {
		opt(s)
	}

	s.v.SetConfigFile(path)
	s.v.SetEnvPrefix("GOVERNANCE")
	s.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	s.v.AutomaticEnv()

	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Watch passa a recarregar o snapshot a cada alteração do arquivo.
func (s *FileSettings) Watch() {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if err := s.reload(); err != nil {
			s.logger.Warn("settings.reload.failed", "file", e.Name, "error", err)
			return
		}
		s.logger.Info("settings.reloaded", "file", e.Name, "op", e.Op.String())
	})
	s.v.WatchConfig()
}

func (s *FileSettings) reload() error {
	var raw fileConfig
	if err := s.v.Unmarshal(&raw); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	snap, err := buildSnapshot(raw, s.logger)
	if err != nil {
		return err
	}
	s.snap.Store(snap)
	return nil
}

func buildSnapshot(raw fileConfig, logger pslog.Logger) (*settingsSnapshot, error) {
	snap := &settingsSnapshot{
		lockout: DefaultLockoutSettings(),
		tenant:  DefaultTenantSettings(),
		ip:      DefaultIPSettings(),
	}

	if raw.Lockout.Enabled != nil {
		snap.lockout.Enabled = *raw.Lockout.Enabled
	}
	if raw.Lockout.Threshold > 0 {
		snap.lockout.Threshold = raw.Lockout.Threshold
	}
	if raw.Lockout.Duration > 0 {
		snap.lockout.Duration = raw.Lockout.Duration
	}
	if raw.Lockout.Grace > 0 {
		snap.lockout.Grace = raw.Lockout.Grace
	}

	t := raw.Tenant
	if t.Header != "" {
		snap.tenant.Header = t.Header
	}
	if t.QueryParam != "" {
		snap.tenant.QueryParam = t.QueryParam
	}
	if t.ClientHeader != "" {
		snap.tenant.ClientHeader = t.ClientHeader
	}
	snap.tenant.DomainFormat = t.DomainFormat
	snap.tenant.DefaultTenant = t.DefaultTenant

	if raw.IP.RefreshInterval > 0 {
		snap.ip.RefreshInterval = raw.IP.RefreshInterval
	}
	if raw.IP.FailureMode != "" {
		mode, err := parseFailureMode(raw.IP.FailureMode)
		if err != nil {
			return nil, fmt.Errorf("ip.failure_mode: %w", err)
		}
		snap.ip.FailureMode = mode
	}

	for i, fr := range raw.IP.Rules {
		rule := domain.IPRule{
			ID:        fr.ID,
			CIDR:      strings.TrimSpace(fr.CIDR),
			Type:      domain.RuleType(strings.ToLower(strings.TrimSpace(fr.Type))),
			Enabled:   fr.Enabled == nil || *fr.Enabled,
			TenantID:  fr.TenantID,
			CreatedBy: "file",
		}
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("file-%d", i)
		}
		if fr.ExpiresAt != "" {
			at, err := time.Parse(time.RFC3339, fr.ExpiresAt)
			if err != nil {
				// regra com expiração ilegível fica de fora; as demais seguem valendo
				logger.Warn("settings.rule.invalid_expiry", "rule", rule.ID, "expires_at", fr.ExpiresAt, "error", err)
				continue
			}
			rule.ExpiresAt = at
		}
		snap.rules = append(snap.rules, rule)
	}

	for _, fp := range raw.Rate.Policies {
		p, err := parsePolicy(fp)
		if err != nil {
			return nil, err
		}
		snap.policies = append(snap.policies, p)
	}
	return snap, nil
}

func parsePolicy(fp filePolicy) (domain.RatePolicy, error) {
	p := domain.RatePolicy{
		ID:         fp.ID,
		Kind:       domain.PolicyKind(strings.ToLower(fp.Kind)),
		Scope:      domain.ScopeKind(strings.ToLower(fp.Scope)),
		Limit:      fp.Limit,
		Window:     fp.Window,
		Capacity:   fp.Capacity,
		RefillRate: fp.RefillRate,
		Routes:     fp.Routes,
	}
	if p.ID == "" {
		return p, fmt.Errorf("rate policy without id")
	}
	if p.Scope == "" {
		p.Scope = domain.ScopeTenantRoute
	}
	mode, err := parseFailureMode(fp.FailureMode)
	if err != nil {
		return p, fmt.Errorf("policy %s: %w", p.ID, err)
	}
	p.FailureMode = mode

	switch p.Kind {
	case domain.PolicyFixedWindow, domain.PolicySlidingWindow:
		if p.Limit <= 0 || p.Window <= 0 {
			return p, fmt.Errorf("policy %s: limit and window must be > 0", p.ID)
		}
	case domain.PolicyTokenBucket:
		if p.Capacity <= 0 || p.RefillRate <= 0 {
			return p, fmt.Errorf("policy %s: capacity and refill_per_second must be > 0", p.ID)
		}
	default:
		return p, fmt.Errorf("policy %s: unknown kind %q", p.ID, fp.Kind)
	}
	return p, nil
}

func parseFailureMode(v string) (domain.FailureMode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "open":
		return domain.FailOpen, nil
	case "closed":
		return domain.FailClosed, nil
	case "local":
		return domain.FailLocal, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q", v)
	}
}

func (s *FileSettings) Lockout() domain.LockoutSettings { return s.snap.Load().lockout }

func (s *FileSettings) RatePolicies() []domain.RatePolicy { return s.snap.Load().policies }

func (s *FileSettings) Tenant() domain.TenantSettings { return s.snap.Load().tenant }

func (s *FileSettings) IP() domain.IPSettings { return s.snap.Load().ip }

// LoadRules implementa domain.RuleSource com as regras estáticas do arquivo.
func (s *FileSettings) LoadRules(context.Context) ([]domain.IPRule, error) {
	rules := s.snap.Load().rules
	return append([]domain.IPRule(nil), rules...), nil
}
