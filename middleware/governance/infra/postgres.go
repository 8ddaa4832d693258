package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"governance-gateway/middleware/governance/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres abre o pool do store de administração (driver pgx via database/sql).
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// leitura esporádica (refresh de regras, unlock): pool pequeno basta
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// PostgresRuleSource carrega as regras de IP da tabela mantida pelo CRUD de administração.
type PostgresRuleSource struct {
	db    *sql.DB
	table string
}

func NewPostgresRuleSource(db *sql.DB, table string) *PostgresRuleSource {
	if strings.TrimSpace(table) == "" {
		table = "ip_rules"
	}
	return &PostgresRuleSource{db: db, table: table}
}

func (s *PostgresRuleSource) LoadRules(ctx context.Context) ([]domain.IPRule, error) {
	rows, err := s.db.QueryContext(ctx, `select id, cidr, rule_type, enabled, expires_at, tenant_id, created_at, created_by from `+s.table)
	if err != nil {
		return nil, fmt.Errorf("load ip rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.IPRule
	for rows.Next() {
		var (
			r         domain.IPRule
			ruleType  string
			expiresAt sql.NullTime
			tenantID  sql.NullString
			createdBy sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.CIDR, &ruleType, &r.Enabled, &expiresAt, &tenantID, &r.CreatedAt, &createdBy); err != nil {
			return nil, fmt.Errorf("scan ip rule: %w", err)
		}
		r.Type = domain.RuleType(strings.ToLower(ruleType))
		if expiresAt.Valid {
			r.ExpiresAt = expiresAt.Time
		}
		r.TenantID = tenantID.String
		r.CreatedBy = createdBy.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load ip rules: %w", err)
	}
	return out, nil
}

// PostgresUserDirectory resolve userID -> username para o unlock administrativo.
type PostgresUserDirectory struct {
	db *sql.DB
}

func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{db: db}
}

func (d *PostgresUserDirectory) UsernameByID(ctx context.Context, userID string) (string, error) {
	var username string
	err := d.db.QueryRowContext(ctx, `select username from users where id = $1`, userID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return username, nil
}
