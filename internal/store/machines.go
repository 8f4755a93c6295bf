package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fleetsync/internal/model"
)

const machineColumns = `id, name, created_at, updated_at, reference_models, reference_data_url,
	fleet_group, fleet_reference_source_id, location, notes`

// GetMachine returns the machine with the given ID or ErrNotFound.
func (s *Store) GetMachine(ctx context.Context, id string) (*model.Machine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE id = ?`, id)
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get machine %s: %w", id, err)
	}
	return m, nil
}

// SaveMachine inserts the machine or replaces the stored record with the same ID.
func (s *Store) SaveMachine(ctx context.Context, m *model.Machine) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("save machine: id is required")
	}

	models := m.ReferenceModels
	if models == nil {
		models = []model.ReferenceModel{}
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("save machine %s: marshal models: %w", m.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO machines (`+machineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at,
			reference_models = excluded.reference_models,
			reference_data_url = excluded.reference_data_url,
			fleet_group = excluded.fleet_group,
			fleet_reference_source_id = excluded.fleet_reference_source_id,
			location = excluded.location,
			notes = excluded.notes
	`,
		m.ID,
		m.Name,
		formatTime(m.CreatedAt),
		formatTime(m.UpdatedAt),
		string(modelsJSON),
		m.ReferenceDataURL,
		m.FleetGroup,
		m.FleetReferenceSourceID,
		m.Location,
		m.Notes,
	)
	if err != nil {
		return fmt.Errorf("save machine %s: %w", m.ID, err)
	}
	return nil
}

// DeleteMachine removes the machine and its dataset. Unknown IDs are ignored.
func (s *Store) DeleteMachine(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM machines WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete machine %s: %w", id, err)
	}
	return nil
}

// ListMachines returns all machines ordered by ID.
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) ListMachines(ctx context.Context) ([]*model.Machine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query machines: %w", err)
	}
	defer rows.Close()

	machines := []*model.Machine{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate machines: %w", err)
	}
	return machines, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (*model.Machine, error) {
	var (
		m                    model.Machine
		createdAt, updatedAt string
		modelsJSON           string
	)
	err := row.Scan(
		&m.ID,
		&m.Name,
		&createdAt,
		&updatedAt,
		&modelsJSON,
		&m.ReferenceDataURL,
		&m.FleetGroup,
		&m.FleetReferenceSourceID,
		&m.Location,
		&m.Notes,
	)
	if err != nil {
		return nil, err
	}

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("machine %s: created_at: %w", m.ID, err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("machine %s: updated_at: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(modelsJSON), &m.ReferenceModels); err != nil {
		return nil, fmt.Errorf("machine %s: reference_models: %w", m.ID, err)
	}
	if len(m.ReferenceModels) == 0 {
		m.ReferenceModels = nil
	}
	return &m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
