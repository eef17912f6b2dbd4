// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/callguard-ai/callguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCall stores a call record with tenant isolation.
func (r *SQLRepository) SaveCall(ctx context.Context, tenantID string, call *domain.CallRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(call.Metadata)

	query := `
		INSERT INTO calls (
			id, tenant_id, caller_number, modality, transcript,
			language, duration_seconds, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		call.ID, tenantID, call.CallerNumber,
		call.Modality, call.Transcript, call.Language,
		call.DurationSeconds, call.Timestamp, call.CreatedAt,
		string(metadata),
	)
	return err
}

// GetCall retrieves a call record by ID with tenant isolation.
func (r *SQLRepository) GetCall(ctx context.Context, tenantID string, callID string) (*domain.CallRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, caller_number, modality, transcript,
			   language, duration_seconds, timestamp, created_at, metadata
		FROM calls
		WHERE tenant_id = ? AND id = ?
	`

	var call domain.CallRecord
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, callID).Scan(
		&call.ID, &call.TenantID, &call.CallerNumber,
		&call.Modality, &call.Transcript, &call.Language,
		&call.DurationSeconds, &call.Timestamp, &call.CreatedAt,
		&metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &call.Metadata)
	}

	return &call, nil
}

// CountCallsByCaller counts calls from a caller number since the given
// time, with tenant isolation. Feeds the velocity signal.
func (r *SQLRepository) CountCallsByCaller(ctx context.Context, tenantID string, callerNumber string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM calls
		WHERE tenant_id = ? AND caller_number = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, callerNumber, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count calls: %w", err)
	}

	return count, nil
}

// SaveRule stores a detection rule with tenant isolation. Saving an
// existing rule ID updates it in place.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.DetectionRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	active := 0
	if rule.Active {
		active = 1
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO detection_rules (
			id, tenant_id, name, description, pattern, category, label,
			severity, score_impact, language, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			pattern = excluded.pattern,
			category = excluded.category,
			label = excluded.label,
			severity = excluded.severity,
			score_impact = excluded.score_impact,
			language = excluded.language,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Pattern, rule.Category, rule.Label,
		rule.Severity, rule.ScoreImpact, rule.Language, active,
		createdAt, now,
	)
	return err
}

// GetRule retrieves a detection rule with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.DetectionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, pattern, category, label,
			   severity, score_impact, language, active, created_at, updated_at
		FROM detection_rules
		WHERE tenant_id = ? AND id = ?
	`

	var rule domain.DetectionRule
	var active int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Pattern, &rule.Category, &rule.Label,
		&rule.Severity, &rule.ScoreImpact, &rule.Language, &active,
		&rule.CreatedAt, &rule.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Active = active == 1
	return &rule, nil
}

// ListActiveRules retrieves all active detection rules for a tenant.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.DetectionRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, pattern, category, label,
			   severity, score_impact, language, active, created_at, updated_at
		FROM detection_rules
		WHERE tenant_id = ? AND active = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.DetectionRule
	for rows.Next() {
		var rule domain.DetectionRule
		var active int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Pattern, &rule.Category, &rule.Label,
			&rule.Severity, &rule.ScoreImpact, &rule.Language, &active,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Active = active == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteRule soft-deletes a detection rule by setting active = 0.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE detection_rules
		SET active = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveAnalysis stores an analysis result with tenant isolation. The
// full result is serialized as JSON; classification and score are
// denormalized for querying.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, analysis *domain.Analysis) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	result, err := json.Marshal(analysis.Result)
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	query := `
		INSERT INTO analyses (
			id, tenant_id, call_id, classification, risk_score, timestamp, result
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		analysis.ID, tenantID, analysis.CallID,
		analysis.Result.Classification, analysis.Result.RiskScore,
		analysis.Timestamp, string(result),
	)
	return err
}

// GetAnalysis retrieves an analysis by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.Analysis, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, call_id, timestamp, result
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	var analysis domain.Analysis
	var result string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID).Scan(
		&analysis.ID, &analysis.TenantID, &analysis.CallID,
		&analysis.Timestamp, &result,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(result), &analysis.Result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis result: %w", err)
	}

	return &analysis, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
