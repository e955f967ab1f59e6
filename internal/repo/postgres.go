package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deploywatch/deploywatch/internal/models"
)

// PostgresArchive persists incidents and mined patterns. The core never
// depends on it directly; it plugs in behind the tracker's IncidentStore and
// the miner's Store interfaces.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresArchive connects to the configured database and ensures the
// archive tables exist.
func NewPostgresArchive(ctx context.Context, databaseURL string) (*PostgresArchive, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("archive database URL not configured")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}

	archive := &PostgresArchive{pool: pool}
	if err := archive.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return archive, nil
}

func (a *PostgresArchive) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			incident_id TEXT PRIMARY KEY,
			deployment_id TEXT,
			severity TEXT NOT NULL,
			risk_factors JSONB NOT NULL DEFAULT '[]',
			anomalies JSONB NOT NULL DEFAULT '[]',
			recommendations JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_patterns (
			pattern_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			factors JSONB NOT NULL DEFAULT '[]',
			anomaly_types JSONB NOT NULL DEFAULT '[]',
			occurrences INT NOT NULL,
			prevalence DOUBLE PRECISION NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate archive: %w", err)
		}
	}
	return nil
}

// StoreIncident archives one incident.
func (a *PostgresArchive) StoreIncident(ctx context.Context, incident models.Incident) error {
	factors, err := json.Marshal(incident.RiskFactors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}
	anomalies, err := json.Marshal(incident.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}
	recommendations, err := json.Marshal(incident.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	query := `
		INSERT INTO incidents (incident_id, deployment_id, severity, risk_factors, anomalies, recommendations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (incident_id) DO NOTHING`
	_, err = a.pool.Exec(ctx, query,
		incident.ID, incident.DeploymentID, string(incident.Severity),
		factors, anomalies, recommendations, incident.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// ListIncidents returns archived incidents created after the given time,
// newest first.
func (a *PostgresArchive) ListIncidents(ctx context.Context, since time.Time, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT incident_id, deployment_id, severity, risk_factors, anomalies, recommendations, created_at
		FROM incidents
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := a.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]models.Incident, 0, limit)
	for rows.Next() {
		var (
			incident        models.Incident
			severity        string
			factors         []byte
			anomalies       []byte
			recommendations []byte
		)
		if err := rows.Scan(&incident.ID, &incident.DeploymentID, &severity, &factors, &anomalies, &recommendations, &incident.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incident.Severity = models.Severity(severity)
		if err := json.Unmarshal(factors, &incident.RiskFactors); err != nil {
			return nil, fmt.Errorf("unmarshal risk factors: %w", err)
		}
		if err := json.Unmarshal(anomalies, &incident.Anomalies); err != nil {
			return nil, fmt.Errorf("unmarshal anomalies: %w", err)
		}
		if err := json.Unmarshal(recommendations, &incident.Recommendations); err != nil {
			return nil, fmt.Errorf("unmarshal recommendations: %w", err)
		}
		incidents = append(incidents, incident)
	}
	return incidents, rows.Err()
}

// StorePatterns upserts mined patterns.
func (a *PostgresArchive) StorePatterns(ctx context.Context, patterns []models.RiskPattern) error {
	query := `
		INSERT INTO risk_patterns (pattern_id, name, description, factors, anomaly_types, occurrences, prevalence, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pattern_id) DO UPDATE SET
			occurrences = EXCLUDED.occurrences,
			prevalence = EXCLUDED.prevalence,
			last_seen = EXCLUDED.last_seen`

	for _, pattern := range patterns {
		factors, err := json.Marshal(pattern.Factors)
		if err != nil {
			return fmt.Errorf("marshal factors: %w", err)
		}
		kinds, err := json.Marshal(pattern.AnomalyTypes)
		if err != nil {
			return fmt.Errorf("marshal anomaly types: %w", err)
		}
		if _, err := a.pool.Exec(ctx, query,
			pattern.ID, pattern.Name, pattern.Description,
			factors, kinds, pattern.Occurrences, pattern.Prevalence, pattern.LastSeen); err != nil {
			return fmt.Errorf("upsert pattern %s: %w", pattern.ID, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (a *PostgresArchive) Close() {
	a.pool.Close()
}
