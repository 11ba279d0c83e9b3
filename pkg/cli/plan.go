package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/platinummonkey/wharf/pkg/config"
	"github.com/platinummonkey/wharf/pkg/observability"
	"github.com/platinummonkey/wharf/pkg/plugins"
	"github.com/platinummonkey/wharf/pkg/plugins/builtin"
)

func newPlanCommand() *Command {
	flags, configPath := configFlags("plan")
	return &Command{
		Name:        "plan",
		Description: "Resolve the plugin configuration without starting anything",
		Flags:       flags,
		Run: func(args []string) error {
			if err := flags.Parse(args); err != nil {
				return err
			}
			return planTo(os.Stdout, builtin.NewRegistry(), *configPath)
		},
	}
}

func planTo(w io.Writer, reg *plugins.Registry, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	runtimeCfg, err := cfg.Runtime()
	if err != nil {
		return err
	}

	plan, err := plugins.Plan(reg, runtimeCfg, log)
	if err != nil {
		return fmt.Errorf("plan failed: %w", err)
	}

	writePlan(w, plan, runtimeCfg)
	return nil
}

// writePlan prints the initialization order and the provider of each capability
func writePlan(w io.Writer, plan *plugins.PlanResult, cfg plugins.RuntimeConfiguration) {
	modules := make(map[string]string)
	for _, d := range cfg.Descriptors() {
		modules[d.ID] = d.Module
	}

	fmt.Fprintf(w, "Initialization order:\n")
	for i, id := range plan.Order() {
		line := fmt.Sprintf("  %2d. %s (%s)", i+1, id, modules[id])
		if deps := plan.Graph.DependenciesOf(id); len(deps) > 0 {
			line += " after " + strings.Join(deps, ", ")
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\nCapabilities:\n")
	for _, c := range plugins.Capabilities() {
		selected, ok := plan.Selected(c)
		if !ok {
			fmt.Fprintf(w, "  %-16s -\n", c)
			continue
		}
		candidates := plan.Providers[c]
		if len(candidates) > 1 {
			fmt.Fprintf(w, "  %-16s %s (candidates: %s)\n", c, selected, strings.Join(candidates, ", "))
			continue
		}
		fmt.Fprintf(w, "  %-16s %s\n", c, selected)
	}

	for _, c := range plan.UnusedPreferences {
		fmt.Fprintf(w, "\nwarning: preference for %s has no provider\n", c)
	}
}
