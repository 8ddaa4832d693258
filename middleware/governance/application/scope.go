package application

import (
	"net"
	"strings"

	"governance-gateway/middleware/governance/domain"
)

// ScopeResolver deriva o TenantScope de um request.
//
// Precedência (primeiro que casar): header -> host/subdomínio -> query -> default.
// O escopo devolvido é um valor: segue explícito pelas chamadas, sem estado ambiente.
type ScopeResolver struct {
	settings domain.SettingsSource
}

func NewScopeResolver(settings domain.SettingsSource) *ScopeResolver {
	return &ScopeResolver{settings: settings}
}

func (r *ScopeResolver) Resolve(req domain.RequestMeta) domain.TenantScope {
	ts := r.settings.Tenant()
	header := lookupFunc(req.Header)
	query := lookupFunc(req.Query)

	scope := domain.TenantScope{
		ClientIP: req.ClientIP,
		RouteID:  req.RouteID,
	}
	if scope.RouteID == "" {
		scope.RouteID = RouteFromPath(req.Path)
	}
	if ts.ClientHeader != "" {
		scope.ClientID = strings.TrimSpace(header(ts.ClientHeader))
	}

	if v := strings.TrimSpace(header(ts.Header)); ts.Header != "" && v != "" {
		scope.TenantID, scope.Source = v, domain.SourceHeader
		return scope
	}
	if v := tenantFromHost(ts.DomainFormat, req.Host); v != "" {
		scope.TenantID, scope.Source = v, domain.SourceDomain
		return scope
	}
	if v := strings.TrimSpace(query(ts.QueryParam)); ts.QueryParam != "" && v != "" {
		scope.TenantID, scope.Source = v, domain.SourceQuery
		return scope
	}
	scope.TenantID, scope.Source = ts.DefaultTenant, domain.SourceDefault
	return scope
}

func lookupFunc(fn func(string) string) func(string) string {
	if fn == nil {
		return func(string) string { return "" }
	}
	return fn
}

// tenantFromHost casa o host com um formato como "{tenant}.api.example.com".
func tenantFromHost(format, host string) string {
	if format == "" || host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	prefix, suffix, ok := strings.Cut(strings.ToLower(format), "{tenant}")
	if !ok || !strings.HasPrefix(host, prefix) || !strings.HasSuffix(host, suffix) {
		return ""
	}
	if len(host) <= len(prefix)+len(suffix) {
		return ""
	}
	tenant := host[len(prefix) : len(host)-len(suffix)]
	if strings.Contains(tenant, ".") {
		return ""
	}
	return tenant
}

// RouteFromPath usa o primeiro segmento do path como id de rota ("/api/orders/1" -> "api").
func RouteFromPath(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if seg == "" {
		return "root"
	}
	return seg
}
