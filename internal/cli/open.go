package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetsync/internal/dispatch"
	"github.com/roach88/fleetsync/internal/route"
)

// outcomeView renders a dispatcher outcome.
type outcomeView struct {
	*dispatch.Outcome
}

func (v outcomeView) writeText(w io.Writer) {
	o := v.Outcome
	switch o.Route.Type {
	case route.TypeMachine:
		if o.Load != nil {
			m := o.Load.Machine
			if o.Sync != nil && o.Sync.Machine != nil {
				m = o.Sync.Machine
			}
			state := "loaded"
			if o.Load.Created {
				state = "created"
			}
			fmt.Fprintf(w, "machine %s %s\n", m.ID, state)
			if o.Sync != nil {
				fmt.Fprintf(w, "  action:  %s\n", o.Sync.Action)
				if o.Sync.Download != nil {
					fmt.Fprintf(w, "  dataset: %s (%s)\n", o.Sync.Download.Version, plural(o.Sync.Download.ModelsImported, "model"))
				}
			}
			fmt.Fprintf(w, "  models:  %d\n", len(m.ReferenceModels))
			if m.FleetGroup != "" {
				fmt.Fprintf(w, "  fleet:   %s\n", m.FleetGroup)
			}
		}
	case route.TypeFleet:
		if o.Fleet != nil {
			writeCommit(w, o.Fleet)
		}
	case route.TypeImport:
		fmt.Fprintf(w, "import requested: %s\n", o.Route.ImportURL)
	default:
		fmt.Fprintln(w, "link ignored: unknown route")
	}
	if o.Code != "" {
		fmt.Fprintf(w, "error [%s]: %s\n", o.Code, o.Detail)
	}
}

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <link>",
		Short: "Handle one deep link against the local store",
		Long: `Handle a single deep link exactly as the watch loop would.

Machine links load or create the machine and download or update its
reference dataset. Fleet links provision the fleet descriptor. Import
links are reported without side effects.

Example:
  fleetsync open --db ./fleetsync.db '#/m/pump-7?c=acme'
  fleetsync open '#/f/line-a?c=acme' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runOpen(opts *RootOptions, link string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := openApp(opts, progressListener{f: f})
	if err != nil {
		return err
	}
	defer a.Close()

	out := a.dispatcher.Handle(commandContext(cmd.Context()), link)
	if out.Err != nil {
		if f.Format == "json" {
			if err := f.Error(string(out.Code), out.Detail, outcomeView{out}); err != nil {
				return err
			}
		} else {
			outcomeView{out}.writeText(f.Writer)
		}
		return WrapExitError(ExitFailure, "link failed", out.Err)
	}
	return f.SuccessWithTrace(outcomeView{out}, out.Trace)
}

// progressListener prints download progress as verbose diagnostics.
type progressListener struct {
	dispatch.NopListener
	f *OutputFormatter
}

func (l progressListener) DownloadProgress(status string, percent int) {
	l.f.VerboseLog("download %s %d%%", status, percent)
}
