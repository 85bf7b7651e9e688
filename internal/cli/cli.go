package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Run      *RunCommand
	Sync     *SyncCommand
	Resume   *ResumeCommand
	Status   *StatusCommand
	Maintain *MaintainCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "seedvault"
	parser.LongDescription = "Archive-aware seismic waveform acquisition into a local SDS archive."

	cmds := &commands{
		Run:      &RunCommand{globals: &globals, version: version},
		Sync:     &SyncCommand{globals: &globals, version: version},
		Resume:   &ResumeCommand{globals: &globals, version: version},
		Status:   &StatusCommand{globals: &globals, version: version},
		Maintain: &MaintainCommand{globals: &globals, version: version},
	}

	parser.AddCommand("run", "Fetch missing data", "Plan, reconcile against the archive, and fetch only what is missing.", cmds.Run)
	parser.AddCommand("sync", "Index an SDS archive", "Scan an existing SDS tree and bring the index in line with the files on disk.", cmds.Sync)
	parser.AddCommand("resume", "Resume unfinished chunks", "Re-run every journaled chunk that is pending, in progress or failed.", cmds.Resume)
	parser.AddCommand("status", "Show index statistics", "Show index coverage, journal state and database size.", cmds.Status)
	parser.AddCommand("maintain", "Maintain the index", "Join adjacent segments, prune old journal rows and compact the database.", cmds.Maintain)

	return parser, &globals, cmds
}

// Run is the main entry point for the seedvault CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// go-flags requires a subcommand, but --version is valid without one.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("seedvault %s\n", version)
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
