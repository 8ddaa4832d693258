package domain

import "strings"

type ScopeSource string

const (
	SourceHeader  ScopeSource = "header"
	SourceDomain  ScopeSource = "domain"
	SourceQuery   ScopeSource = "query"
	SourceDefault ScopeSource = "default"
)

// TenantScope é o descritor de escopo calculado por request. Imutável depois de resolvido.
type TenantScope struct {
	TenantID string
	ClientID string
	RouteID  string
	ClientIP string
	Source   ScopeSource
}

// Key compõe a chave do limiter conforme o tipo de escopo da política.
func (s TenantScope) Key(kind ScopeKind) Key {
	tenant := s.TenantID
	if tenant == "" {
		tenant = "host"
	}
	var parts []string
	switch kind {
	case ScopeIP:
		parts = []string{"ip", s.ClientIP}
	case ScopeTenant:
		parts = []string{"t", tenant}
	case ScopeClientRoute:
		parts = []string{"c", s.ClientID, "r", s.RouteID}
	default:
		parts = []string{"t", tenant, "r", s.RouteID}
	}
	return Key(strings.Join(parts, ":"))
}

// RequestMeta é a visão agnóstica de HTTP de um request recebido.
type RequestMeta struct {
	ClientIP string
	Host     string
	Method   string
	Path     string
	RouteID  string
	// Header e Query devolvem "" quando ausentes.
	Header func(name string) string
	Query  func(name string) string
}
