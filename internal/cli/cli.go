package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status   *StatusCommand
	Search   *SearchCommand
	Show     *ShowCommand
	Stats    *StatsCommand
	Export   *ExportCommand
	Delete   *DeleteCommand
	Ingest   *IngestCommand
	Prune    *PruneCommand
	Purge    *PurgeCommand
	Settings *SettingsCommand
	Merges   *MergesCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "dwell"
	parser.LongDescription = "Local page-view dwell-time tracking: how long you actually spend on each page."

	cmds := &commands{
		Status:   &StatusCommand{globals: &globals, version: version},
		Search:   &SearchCommand{globals: &globals, version: version},
		Show:     &ShowCommand{globals: &globals, version: version},
		Stats:    &StatsCommand{globals: &globals, version: version},
		Export:   &ExportCommand{globals: &globals, version: version},
		Delete:   &DeleteCommand{globals: &globals, version: version},
		Ingest:   &IngestCommand{globals: &globals, version: version},
		Prune:    &PruneCommand{globals: &globals, version: version},
		Purge:    &PurgeCommand{globals: &globals, version: version},
		Settings: &SettingsCommand{globals: &globals, version: version},
		Merges:   &MergesCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show tracking health and statistics", "Show daemon health, tracked time, database statistics and retention.", cmds.Status)
	parser.AddCommand("search", "Search visited pages", "Search the visit log by keyword, with optional filters.", cmds.Search)
	parser.AddCommand("show", "Print one page view", "Print a page view and every recorded session.", cmds.Show)
	parser.AddCommand("stats", "Show time-tracking statistics", "Show total time, top pages, top domains and hourly/weekday distributions.", cmds.Stats)
	parser.AddCommand("export", "Export page views", "Export page views as JSON or CSV, optionally filtered by date and domain.", cmds.Export)
	parser.AddCommand("delete", "Delete tracked data", "Delete a page, a domain, a day, or all tracked data.", cmds.Delete)
	parser.AddCommand("ingest", "Start the dwell daemon", "Start the dwell daemon (local HTTP service receiving page sessions).", cmds.Ingest)
	parser.AddCommand("prune", "Apply retention now", "Apply retention cleanup, compaction and similar-URL merging now.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL dwell data", "Delete ALL dwell data including settings. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("settings", "Show or change settings", "Show or change tracking settings: retention, excluded domains, collection.", cmds.Settings)
	parser.AddCommand("merges", "List or undo URL merges", "List similar-URL merges made during maintenance, or undo one.", cmds.Merges)

	return parser, &globals, cmds
}

// Run is the main entry point for the dwell CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("dwell %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
