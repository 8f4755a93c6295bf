package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/roach88/fleetsync/internal/model"
)

const (
	machinePrefix = "machine:"
	datasetPrefix = "dataset:"
)

// BadgerStore implements Backend on Badger. Records are stored as JSON.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens or creates a Badger database in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	return openBadger(opts)
}

// OpenBadgerInMemory opens a Badger database that lives only in memory.
func OpenBadgerInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func machineKey(id string) []byte {
	return []byte(machinePrefix + id)
}

func datasetKey(machineID string) []byte {
	return []byte(datasetPrefix + machineID)
}

// GetMachine returns the machine with the given ID or ErrNotFound.
func (s *BadgerStore) GetMachine(ctx context.Context, id string) (*model.Machine, error) {
	var out model.Machine
	if err := s.get(machineKey(id), &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get machine %s: %w", id, err)
	}
	return &out, nil
}

// SaveMachine inserts or replaces the machine.
func (s *BadgerStore) SaveMachine(ctx context.Context, m *model.Machine) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("save machine: id is required")
	}
	if err := s.set(machineKey(m.ID), m); err != nil {
		return fmt.Errorf("save machine %s: %w", m.ID, err)
	}
	return nil
}

// DeleteMachine removes the machine and its dataset in one transaction.
func (s *BadgerStore) DeleteMachine(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(machineKey(id)); err != nil {
			return err
		}
		return txn.Delete(datasetKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete machine %s: %w", id, err)
	}
	return nil
}

// ListMachines returns all machines ordered by ID.
func (s *BadgerStore) ListMachines(ctx context.Context) ([]*model.Machine, error) {
	machines := []*model.Machine{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(machinePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m model.Machine
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			machines = append(machines, &m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	// Badger iterates in byte order already; sort keeps the contract explicit.
	sort.Slice(machines, func(i, j int) bool { return machines[i].ID < machines[j].ID })
	return machines, nil
}

// GetDataset returns the stored dataset for a machine or ErrNotFound.
func (s *BadgerStore) GetDataset(ctx context.Context, machineID string) (*model.ReferenceDataset, error) {
	var out model.ReferenceDataset
	if err := s.get(datasetKey(machineID), &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get dataset %s: %w", machineID, err)
	}
	return &out, nil
}

// SaveDataset inserts or replaces a machine's dataset.
// The machine must already exist, matching the SQLite backend.
func (s *BadgerStore) SaveDataset(ctx context.Context, ds *model.ReferenceDataset) error {
	if ds == nil || ds.MachineID == "" {
		return fmt.Errorf("save dataset: machine id is required")
	}
	if _, err := s.GetMachine(ctx, ds.MachineID); err != nil {
		return fmt.Errorf("save dataset %s: %w", ds.MachineID, err)
	}
	if err := s.set(datasetKey(ds.MachineID), ds); err != nil {
		return fmt.Errorf("save dataset %s: %w", ds.MachineID, err)
	}
	return nil
}

func (s *BadgerStore) get(key []byte, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, out)
		})
	})
}

func (s *BadgerStore) set(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}
