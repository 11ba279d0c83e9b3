package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/wharf/pkg/plugins"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin"
)

func newModulesCommand() *Command {
	return &Command{
		Name:        "modules",
		Description: "List the plugin modules this binary can load",
		Flags:       flag.NewFlagSet("modules", flag.ExitOnError),
		Run: func(args []string) error {
			return writeModules(os.Stdout, builtin.NewRegistry())
		},
	}
}

func writeModules(w io.Writer, reg *plugins.Registry) error {
	for _, module := range reg.Modules() {
		export, err := reg.Lookup(module)
		if err != nil {
			return err
		}

		provides := make([]string, 0, len(export.Provides))
		for c := range export.Provides {
			provides = append(provides, string(c))
		}
		sort.Strings(provides)
		if len(provides) == 0 {
			provides = append(provides, string(plugins.TypeMiddleware))
		}

		line := fmt.Sprintf("%-22s provides %s", module, strings.Join(provides, ", "))
		if len(export.LoadAfter) > 0 {
			line += "; loads after " + strings.Join(export.LoadAfter, ", ")
		}
		if export.ConfigRequired {
			line += "; config required"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
