package repository

// Schema definitions for the caretrust database.
// Compatible with both SQLite and PostgreSQL.

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    data TEXT NOT NULL,
    joined_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, subject_id)
);
`

const schemaActivities = `
CREATE TABLE IF NOT EXISTS activities (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    type TEXT NOT NULL,
    subtype TEXT,
    description TEXT,
    estimated_hours REAL NOT NULL,
    reported_hours REAL NOT NULL DEFAULT 0,
    multiplier REAL NOT NULL DEFAULT 0,
    location TEXT,
    verification_status TEXT NOT NULL,
    anomaly_flags TEXT NOT NULL,
    anomaly_score REAL NOT NULL DEFAULT 0,
    performed_at TIMESTAMP NOT NULL,
    logged_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_activities_subject ON activities(tenant_id, subject_id, performed_at);
`

// schemaTestimonies stores verifier attestations. Collusion checks scan
// a tenant's recent testimonies, hence the submitted_at index.
const schemaTestimonies = `
CREATE TABLE IF NOT EXISTS testimonies (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    verifier_id TEXT NOT NULL,
    verifier_type TEXT NOT NULL,
    activity_id TEXT,
    text TEXT,
    ratings TEXT NOT NULL,
    trust_weight REAL NOT NULL DEFAULT 0,
    authenticity REAL NOT NULL DEFAULT 0,
    collusion_flags TEXT NOT NULL,
    submitted_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_testimonies_subject ON testimonies(tenant_id, subject_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_testimonies_submitted ON testimonies(tenant_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_testimonies_verifier ON testimonies(tenant_id, verifier_id);
`

const schemaScoreHistory = `
CREATE TABLE IF NOT EXISTS score_history (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    total_score INTEGER NOT NULL,
    band TEXT NOT NULL,
    config_version TEXT NOT NULL,
    calculated_at TIMESTAMP NOT NULL,
    result TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_score_history_subject ON score_history(tenant_id, subject_id, calculated_at);
`

// SchemaVersion is the version recorded once AllSchemas has been applied.
const SchemaVersion = 1

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER NOT NULL,
    applied_at TIMESTAMP NOT NULL
)`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProfiles,
		schemaActivities,
		schemaTestimonies,
		schemaScoreHistory,
	}
}
