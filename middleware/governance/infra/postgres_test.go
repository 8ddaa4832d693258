package infra

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"governance-gateway/middleware/governance/domain"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresRuleSource_LoadRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(24 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "cidr", "rule_type", "enabled", "expires_at", "tenant_id", "created_at", "created_by"}).
		AddRow("r1", "10.0.0.0/8", "DENY", true, nil, nil, created, "ops").
		AddRow("r2", "192.0.2.1", "allow", false, expires, "acme", created, nil)
	mock.ExpectQuery("select id, cidr, rule_type, enabled, expires_at, tenant_id, created_at, created_by from ip_rules").WillReturnRows(rows)

	rules, err := NewPostgresRuleSource(db, "").LoadRules(context.Background())
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if r := rules[0]; r.Type != domain.RuleDeny || !r.Enabled || !r.ExpiresAt.IsZero() || r.TenantID != "" || r.CreatedBy != "ops" {
		t.Fatalf("unexpected rule %+v", r)
	}
	if r := rules[1]; r.Type != domain.RuleAllow || r.Enabled || !r.ExpiresAt.Equal(expires) || r.TenantID != "acme" {
		t.Fatalf("unexpected rule %+v", r)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRuleSource_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	boom := errors.New("connection refused")
	mock.ExpectQuery("from governance_rules").WillReturnError(boom)

	if _, err := NewPostgresRuleSource(db, "governance_rules").LoadRules(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

func TestPostgresUserDirectory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	dir := NewPostgresUserDirectory(db)

	mock.ExpectQuery("select username from users where id").WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("alice"))
	name, err := dir.UsernameByID(context.Background(), "42")
	if err != nil || name != "alice" {
		t.Fatalf("expected alice, got %q err=%v", name, err)
	}

	mock.ExpectQuery("select username from users where id").WithArgs("404").WillReturnError(sql.ErrNoRows)
	if _, err := dir.UsernameByID(context.Background(), "404"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
