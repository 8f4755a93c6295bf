package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/store"
)

// machineSummary is one row of the machines list.
type machineSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FleetGroup string `json:"fleet_group,omitempty"`
	Source     string `json:"fleet_reference_source_id,omitempty"`
	Models     int    `json:"models"`
}

type machineList []machineSummary

func (l machineList) writeText(w io.Writer) {
	if len(l) == 0 {
		fmt.Fprintln(w, "no machines")
		return
	}
	for _, m := range l {
		line := fmt.Sprintf("%-20s %-24s models=%d", m.ID, m.Name, m.Models)
		if m.FleetGroup != "" {
			line += " fleet=" + m.FleetGroup
		}
		if m.Source != "" {
			line += " source=" + m.Source
		}
		fmt.Fprintln(w, line)
	}
}

// machineDetail is the output of machines show.
type machineDetail struct {
	Machine *model.Machine          `json:"machine"`
	Dataset *model.ReferenceDataset `json:"dataset,omitempty"`
}

func (d machineDetail) writeText(w io.Writer) {
	m := d.Machine
	fmt.Fprintf(w, "id:        %s\n", m.ID)
	fmt.Fprintf(w, "name:      %s\n", m.Name)
	fmt.Fprintf(w, "created:   %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	printField(w, "reference", m.ReferenceDataURL)
	printField(w, "fleet", m.FleetGroup)
	printField(w, "source", m.FleetReferenceSourceID)
	printField(w, "location", m.Location)
	printField(w, "notes", m.Notes)
	fmt.Fprintf(w, "models:    %d\n", len(m.ReferenceModels))
	if d.Dataset != nil {
		fmt.Fprintf(w, "dataset:   %s (fetched %s)\n", d.Dataset.Version, d.Dataset.FetchedAt.UTC().Format(time.RFC3339))
	}
}

// NewMachinesCommand creates the machines command group.
func NewMachinesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machines",
		Short: "Inspect machines in the local store",
	}
	cmd.AddCommand(newMachinesListCommand(rootOpts))
	cmd.AddCommand(newMachinesShowCommand(rootOpts))
	return cmd
}

func newMachinesListCommand(rootOpts *RootOptions) *cobra.Command {
	var fleetName string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List machines ordered by ID",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			st, closeStore, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer closeStore()

			machines, err := st.ListMachines(commandContext(cmd.Context()))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list machines", err)
			}

			out := machineList{}
			for _, m := range machines {
				if fleetName != "" && !m.InFleet(fleetName) {
					continue
				}
				out = append(out, machineSummary{
					ID:         m.ID,
					Name:       m.Name,
					FleetGroup: m.FleetGroup,
					Source:     m.FleetReferenceSourceID,
					Models:     len(m.ReferenceModels),
				})
			}
			return f.Success(out)
		},
	}

	cmd.Flags().StringVar(&fleetName, "fleet", "", "only list members of this fleet")

	return cmd
}

func newMachinesShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show <id>",
		Short:         "Show one machine and its stored dataset",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			st, closeStore, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := commandContext(cmd.Context())
			m, err := st.GetMachine(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return f.OperationError("machine not found",
					&model.Error{Code: model.CodeNotFound, MachineID: args[0]}, nil)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load machine", err)
			}

			detail := machineDetail{Machine: m}
			ds, err := st.GetDataset(ctx, m.ID)
			switch {
			case err == nil:
				detail.Dataset = ds
			case !errors.Is(err, store.ErrNotFound):
				return WrapExitError(ExitCommandError, "failed to load dataset", err)
			}
			return f.Success(detail)
		},
	}
	return cmd
}

// openStore opens only the store, for read-only commands.
func openStore(opts *RootOptions) (store.Backend, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	setupLogging(opts, cfg)

	st, err := store.OpenBackend(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}, nil
}
