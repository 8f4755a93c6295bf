package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/fleetsync/internal/model"
)

// GetDataset returns the stored reference dataset for a machine or ErrNotFound.
func (s *Store) GetDataset(ctx context.Context, machineID string) (*model.ReferenceDataset, error) {
	var (
		ds         model.ReferenceDataset
		fetchedAt  string
		modelsJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT machine_id, version, source_url, fetched_at, models
		FROM datasets
		WHERE machine_id = ?
	`, machineID).Scan(&ds.MachineID, &ds.Version, &ds.SourceURL, &fetchedAt, &modelsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset %s: %w", machineID, err)
	}

	if ds.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return nil, fmt.Errorf("dataset %s: fetched_at: %w", machineID, err)
	}
	if err := json.Unmarshal([]byte(modelsJSON), &ds.Models); err != nil {
		return nil, fmt.Errorf("dataset %s: models: %w", machineID, err)
	}
	return &ds, nil
}

// SaveDataset inserts or replaces a machine's dataset.
// The machine must already exist (foreign key constraint).
func (s *Store) SaveDataset(ctx context.Context, ds *model.ReferenceDataset) error {
	if ds == nil || ds.MachineID == "" {
		return fmt.Errorf("save dataset: machine id is required")
	}

	models := ds.Models
	if models == nil {
		models = []model.ReferenceModel{}
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("save dataset %s: marshal models: %w", ds.MachineID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets (machine_id, version, source_url, fetched_at, models)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(machine_id) DO UPDATE SET
			version = excluded.version,
			source_url = excluded.source_url,
			fetched_at = excluded.fetched_at,
			models = excluded.models
	`,
		ds.MachineID,
		ds.Version,
		ds.SourceURL,
		formatTime(ds.FetchedAt),
		string(modelsJSON),
	)
	if err != nil {
		return fmt.Errorf("save dataset %s: %w", ds.MachineID, err)
	}
	return nil
}
