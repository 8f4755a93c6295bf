package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetsync/internal/route"
)

// resolveView is the output of the resolve command.
type resolveView struct {
	Link  string      `json:"link"`
	Route route.Route `json:"route"`
	Hash  string      `json:"canonical,omitempty"`
}

func (v resolveView) writeText(w io.Writer) {
	fmt.Fprintf(w, "type:      %s\n", v.Route.Type)
	if v.Route.Type == route.TypeUnknown {
		fmt.Fprintln(w, "link does not match any known route")
		return
	}
	printField(w, "machine", v.Route.MachineID)
	printField(w, "fleet", v.Route.FleetID)
	printField(w, "customer", v.Route.CustomerID)
	printField(w, "reference", v.Route.ReferenceDataURL)
	printField(w, "fleet url", v.Route.FleetDataURL)
	printField(w, "import", v.Route.ImportURL)
	printField(w, "canonical", v.Hash)
}

func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "%-10s %s\n", label+":", value)
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <link>",
		Short: "Parse a deep link without touching the store",
		Long: `Parse a deep link into its route and print the derived locations.

Nothing is read or written. Unknown links are reported as type "unknown".

Example:
  fleetsync resolve '#/m/pump-7?c=acme'
  fleetsync resolve '#/f/line-a?c=acme' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runResolve(opts *RootOptions, link string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	rt := newResolver(cfg).Parse(link)

	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return f.Success(resolveView{Link: link, Route: rt, Hash: rt.Hash()})
}
