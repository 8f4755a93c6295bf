package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetsync/internal/fleet"
)

// ProvisionOptions holds flags for the provision command.
type ProvisionOptions struct {
	*RootOptions
	DryRun bool
}

// planView renders a prepared but uncommitted plan.
type planView struct {
	*fleet.Plan
}

func (v planView) writeText(w io.Writer) {
	p := v.Plan
	fmt.Fprintf(w, "fleet %q (dry run)\n", p.FleetName)
	if p.GoldStandardID != "" {
		fmt.Fprintf(w, "  gold standard: %s\n", p.GoldStandardID)
	}
	for _, m := range p.ToCreate {
		fmt.Fprintf(w, "  create  %s\n", m.ID)
	}
	for _, u := range p.ToUpdate {
		fmt.Fprintf(w, "  adopt   %s\n", u.Existing.ID)
	}
	for _, s := range p.Skipped {
		if s.FleetGroup != "" {
			fmt.Fprintf(w, "  skip    %s (%s: %s)\n", s.ID, s.Reason, s.FleetGroup)
			continue
		}
		fmt.Fprintf(w, "  skip    %s (%s)\n", s.ID, s.Reason)
	}
	writeWarnings(w, p.Warnings)
}

// commitView renders a commit result.
type commitView struct {
	*fleet.CommitResult
}

func (v commitView) writeText(w io.Writer) {
	writeCommit(w, v.CommitResult)
}

func writeCommit(w io.Writer, r *fleet.CommitResult) {
	fmt.Fprintf(w, "fleet %q ready: %s\n", r.FleetName, plural(r.Members(), "member"))
	fmt.Fprintf(w, "  created: %d\n", r.Created)
	fmt.Fprintf(w, "  adopted: %d\n", r.Updated)
	fmt.Fprintf(w, "  skipped: %d (%d already in fleet)\n", r.Skipped, r.AlreadyInFleet)
	writeWarnings(w, r.Warnings)
}

func writeWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProvisionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "provision <file-or-url>",
		Short: "Provision a fleet from a descriptor",
		Long: `Validate a fleet descriptor, plan the import against the local store
and commit it. Machines that already belong to another fleet are skipped.
If any write fails, machines created by this run are removed again.

With --dry-run the plan is printed and nothing is written.

Example:
  fleetsync provision ./fleet-line-a.json --dry-run
  fleetsync provision https://data.example.com/acme/fleet-line-a.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the plan without writing")

	return cmd
}

func runProvision(opts *ProvisionOptions, location string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd.Context())

	desc, err := a.fleets.Load(ctx, location)
	if err != nil {
		var details any
		if code := fleet.ValidationCode(err); code != "" {
			details = map[string]string{"validation": code}
		}
		return f.OperationError("descriptor rejected", err, details)
	}
	f.VerboseLog("descriptor %q: %s", desc.Fleet.Name, plural(len(desc.Machines), "machine"))

	plan, err := a.fleets.Prepare(ctx, desc)
	if err != nil {
		return f.OperationError("prepare failed", err, nil)
	}

	if opts.DryRun {
		return f.Success(planView{plan})
	}

	for _, w := range plan.Warnings {
		slog.Warn("fleet import warning", "fleet", plan.FleetName, "warning", w)
	}
	res, err := a.fleets.Commit(ctx, plan)
	if err != nil {
		return f.OperationError("commit failed", err, nil)
	}
	return f.Success(commitView{res})
}
