package repository

// Schema definitions for the CallGuard database.
// Compatible with both SQLite and PostgreSQL.

const schemaCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    caller_number TEXT,
    modality TEXT NOT NULL,
    transcript TEXT,
    language TEXT,
    duration_seconds REAL NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_calls_tenant ON calls(tenant_id);
CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls(tenant_id, caller_number);
CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON calls(tenant_id, timestamp);
`

const schemaDetectionRules = `
CREATE TABLE IF NOT EXISTS detection_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    pattern TEXT NOT NULL,
    category TEXT NOT NULL,
    label TEXT NOT NULL,
    severity TEXT NOT NULL,
    score_impact INTEGER NOT NULL DEFAULT 0,
    language TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_detection_rules_tenant ON detection_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_detection_rules_active ON detection_rules(tenant_id, active);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    call_id TEXT NOT NULL,
    classification TEXT NOT NULL,
    risk_score REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    result TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_call ON analyses(tenant_id, call_id);
CREATE INDEX IF NOT EXISTS idx_analyses_classification ON analyses(tenant_id, classification);
CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCalls,
		schemaDetectionRules,
		schemaAnalyses,
	}
}
