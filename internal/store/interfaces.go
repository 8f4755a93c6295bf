package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/fleetsync/internal/model"
)

// ErrNotFound is returned when no record exists for the requested key.
var ErrNotFound = errors.New("not found")

// MachineStore persists machines keyed by ID.
type MachineStore interface {
	// GetMachine returns ErrNotFound if no machine has the ID.
	GetMachine(ctx context.Context, id string) (*model.Machine, error)
	// SaveMachine inserts or replaces the machine.
	SaveMachine(ctx context.Context, m *model.Machine) error
	// DeleteMachine is a no-op for unknown IDs.
	DeleteMachine(ctx context.Context, id string) error
	// ListMachines returns all machines ordered by ID.
	ListMachines(ctx context.Context) ([]*model.Machine, error)
}

// DatasetStore persists the local copy of each machine's reference dataset.
type DatasetStore interface {
	// GetDataset returns ErrNotFound if no dataset exists for the machine.
	GetDataset(ctx context.Context, machineID string) (*model.ReferenceDataset, error)
	SaveDataset(ctx context.Context, ds *model.ReferenceDataset) error
}

// Backend is a complete storage implementation.
type Backend interface {
	MachineStore
	DatasetStore
	Close() error
}

// Driver names accepted by OpenBackend.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// OpenBackend opens the backend named by driver at path.
func OpenBackend(driver, path string) (Backend, error) {
	switch driver {
	case "", DriverSQLite:
		s, err := Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverBadger:
		s, err := OpenBadger(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
