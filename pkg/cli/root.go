package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "wharf",
		Description: "Wharf - A pluggable package registry server",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("wharf", flag.ExitOnError),
	}

	root.Subcommands["serve"] = newServeCommand()
	root.Subcommands["plan"] = newPlanCommand()
	root.Subcommands["modules"] = newModulesCommand()

	return root
}

// configFlags creates a subcommand flag set carrying --config
func configFlags(name string) (*flag.FlagSet, *string) {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	configPath := flags.String("config", os.Getenv("WHARF_CONFIG"), "Path to the configuration file")
	return flags, configPath
}

// Execute runs the command
func (c *Command) Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		return c.usage()
	}

	if strings.EqualFold(args[0], "-h") || strings.EqualFold(args[0], "--help") {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	return c.writeUsage(os.Stdout)
}

func (c *Command) writeUsage(w io.Writer) error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
