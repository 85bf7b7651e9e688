package cli

import "github.com/runnerr0/seedvault/internal/acquire"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" short:"c" description:"Path to config file (.yaml or .toml)" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" short:"v" description:"Enable debug logging"`
	Quiet   bool   `long:"quiet" short:"q" description:"Suppress per-chunk progress lines"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// RunCommand acquires the data the config asks for.
type RunCommand struct {
	Mode  string `long:"mode" description:"Override download_type" choice:"continuous" choice:"event"`
	Force bool   `long:"force" description:"Refetch even when the archive already covers the request"`

	globals *GlobalFlags
	version string
	deps    *acquire.Deps // injectable for testing; nil means FDSN clients from config
}

// SyncCommand indexes an existing SDS tree.
type SyncCommand struct {
	DB           string  `long:"db" description:"Index database (default: SDS_ROOT/database.sqlite)"`
	Patterns     string  `long:"patterns" description:"Comma-separated file name globs" default:"??.*.*.???.?.????.???"`
	NewerThan    string  `long:"newer-than" description:"Only files modified after this date (YYYY-MM-DD)"`
	CPU          int     `long:"cpu" description:"Parallel file workers (0 = all CPUs)" default:"0"`
	GapTolerance float64 `long:"gap-tolerance" description:"Join segments closer than this many seconds" default:"60"`

	Args struct {
		Root string `positional-arg-name:"SDS_ROOT" required:"yes"`
	} `positional-args:"yes"`

	globals *GlobalFlags
	version string
}

// ResumeCommand re-runs journaled chunks that did not finish.
type ResumeCommand struct {
	globals *GlobalFlags
	version string
	deps    *acquire.Deps
}

// StatusCommand reports index statistics.
type StatusCommand struct {
	Top int `long:"top" description:"Number of most fragmented channels to list" default:"10"`

	globals *GlobalFlags
	version string
}

// MaintainCommand joins, compacts and prunes the index.
type MaintainCommand struct {
	Join         bool   `long:"join" description:"Merge segments closer than processing.gap_tolerance"`
	Vacuum       bool   `long:"vacuum" description:"Rebuild the database file"`
	Analyze      bool   `long:"analyze" description:"Reindex and refresh query statistics"`
	PruneJournal string `long:"prune-journal" description:"Delete finished journal rows older than duration (e.g., 30d)"`
	PruneNoData  string `long:"prune-nodata" description:"Delete no-data marks older than duration (e.g., 7d)"`
	DryRun       bool   `long:"dry-run" description:"Show what would run without changing the index"`

	globals *GlobalFlags
	version string
}
