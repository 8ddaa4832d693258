package application

import (
	"testing"

	"governance-gateway/middleware/governance/domain"
	"governance-gateway/middleware/governance/infra"
)

func mapLookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestScopeResolver_Precedence(t *testing.T) {
	settings := infra.NewStaticSettings()
	settings.SetTenant(domain.TenantSettings{
		Header:        "X-Tenant-Id",
		DomainFormat:  "{tenant}.api.example.com",
		QueryParam:    "__tenant",
		DefaultTenant: "public",
		ClientHeader:  "X-Client-Id",
	})
	r := NewScopeResolver(settings)

	tests := []struct {
		name   string
		req    domain.RequestMeta
		tenant string
		source domain.ScopeSource
	}{
		{
			name: "header wins",
			req: domain.RequestMeta{
				Host:   "beta.api.example.com",
				Header: mapLookup(map[string]string{"X-Tenant-Id": "alpha"}),
				Query:  mapLookup(map[string]string{"__tenant": "gamma"}),
			},
			tenant: "alpha", source: domain.SourceHeader,
		},
		{
			name: "domain before query",
			req: domain.RequestMeta{
				Host:  "Beta.api.example.com:8443",
				Query: mapLookup(map[string]string{"__tenant": "gamma"}),
			},
			tenant: "beta", source: domain.SourceDomain,
		},
		{
			name:   "query",
			req:    domain.RequestMeta{Host: "api.example.com", Query: mapLookup(map[string]string{"__tenant": "gamma"})},
			tenant: "gamma", source: domain.SourceQuery,
		},
		{
			name:   "default",
			req:    domain.RequestMeta{Host: "localhost"},
			tenant: "public", source: domain.SourceDefault,
		},
		{
			name:   "nested subdomain does not match",
			req:    domain.RequestMeta{Host: "a.b.api.example.com"},
			tenant: "public", source: domain.SourceDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.req)
			if got.TenantID != tt.tenant || got.Source != tt.source {
				t.Fatalf("expected %s via %s, got %s via %s", tt.tenant, tt.source, got.TenantID, got.Source)
			}
		})
	}
}

func TestScopeResolver_ClientAndRoute(t *testing.T) {
	r := NewScopeResolver(infra.NewStaticSettings())

	got := r.Resolve(domain.RequestMeta{
		ClientIP: "10.0.0.1",
		Path:     "/orders/42",
		Header:   mapLookup(map[string]string{"X-Client-Id": " mobile "}),
	})
	if got.ClientID != "mobile" || got.RouteID != "orders" || got.ClientIP != "10.0.0.1" {
		t.Fatalf("unexpected scope %+v", got)
	}

	got = r.Resolve(domain.RequestMeta{Path: "/orders", RouteID: "checkout"})
	if got.RouteID != "checkout" {
		t.Fatalf("expected explicit route to win, got %s", got.RouteID)
	}
}

func TestRouteFromPath(t *testing.T) {
	for in, want := range map[string]string{
		"/":            "root",
		"":             "root",
		"/login":       "login",
		"/api/v1/keys": "api",
	} {
		if got := RouteFromPath(in); got != want {
			t.Fatalf("RouteFromPath(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestTenantScope_Key(t *testing.T) {
	s := domain.TenantScope{TenantID: "acme", ClientID: "web", RouteID: "api", ClientIP: "10.0.0.1"}

	for kind, want := range map[domain.ScopeKind]domain.Key{
		domain.ScopeIP:          "ip:10.0.0.1",
		domain.ScopeTenant:      "t:acme",
		domain.ScopeTenantRoute: "t:acme:r:api",
		domain.ScopeClientRoute: "c:web:r:api",
		"":                      "t:acme:r:api",
	} {
		if got := s.Key(kind); got != want {
			t.Fatalf("Key(%q): expected %q, got %q", kind, want, got)
		}
	}

	if got := (domain.TenantScope{RouteID: "api"}).Key(domain.ScopeTenant); got != "t:host" {
		t.Fatalf("expected empty tenant to fall back to host, got %q", got)
	}
}
