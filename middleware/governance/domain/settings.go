package domain

import "time"

// TenantSettings controla a resolução de tenant.
type TenantSettings struct {
	Header string
	// DomainFormat tem um "{tenant}" que casa com o host, ex: "{tenant}.api.example.com".
	DomainFormat  string
	QueryParam    string
	DefaultTenant string
	ClientHeader  string
}

type IPSettings struct {
	RefreshInterval time.Duration
	FailureMode     FailureMode
}

// SettingsSource é a fonte viva de configuração.
//
// Os componentes chamam a cada operação, então mudanças valem sem restart.
type SettingsSource interface {
	Lockout() LockoutSettings
	RatePolicies() []RatePolicy
	Tenant() TenantSettings
	IP() IPSettings
}
