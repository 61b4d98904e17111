package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// ConfigurationStore writes export/import configuration records.
type ConfigurationStore struct {
	db    querier
	table string
	now   func() time.Time
}

// NewConfigurationStore wraps a pool. An empty table selects the default.
func NewConfigurationStore(db querier, table string) (*ConfigurationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "export_import_configurations")
	if err != nil {
		return nil, err
	}
	return &ConfigurationStore{db: db, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateConfiguration inserts the record and returns it with its new id.
func (s *ConfigurationStore) CreateConfiguration(
	ctx context.Context,
	cfg portal.Configuration,
) (portal.Configuration, error) {
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = s.now()
	}
	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return portal.Configuration{}, fmt.Errorf("marshal settings: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (uuid, company_id, group_id, user_id, name, description, type, settings, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id`, s.table)

	err = s.db.QueryRow(ctx, query,
		cfg.UUID,
		cfg.CompanyID,
		cfg.GroupID,
		cfg.UserID,
		cfg.Name,
		cfg.Description,
		int(cfg.Type),
		settings,
		cfg.Status,
		cfg.CreatedAt,
	).Scan(&cfg.ID)
	if err != nil {
		return portal.Configuration{}, fmt.Errorf("insert configuration: %w", err)
	}
	return cfg, nil
}

// GetConfiguration loads a record by id.
func (s *ConfigurationStore) GetConfiguration(ctx context.Context, id int64) (portal.Configuration, error) {
	query := fmt.Sprintf(`
SELECT id, uuid, company_id, group_id, user_id, name, description, type, settings, status, created_at
FROM %s WHERE id = $1`, s.table)

	var (
		cfg      portal.Configuration
		typ      int
		settings []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&cfg.ID,
		&cfg.UUID,
		&cfg.CompanyID,
		&cfg.GroupID,
		&cfg.UserID,
		&cfg.Name,
		&cfg.Description,
		&typ,
		&settings,
		&cfg.Status,
		&cfg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return portal.Configuration{}, fmt.Errorf("configuration %d: %w", id, portal.ErrNotFound)
	}
	if err != nil {
		return portal.Configuration{}, fmt.Errorf("select configuration %d: %w", id, err)
	}
	cfg.Type = portal.ConfigurationType(typ)
	if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
		return portal.Configuration{}, fmt.Errorf("decode settings of configuration %d: %w", id, err)
	}
	return cfg, nil
}
