// Command ulogsqlite is the CLI driver for the engine: it plays the role
// the original test_ulog_sqlite C program played for the C library, wiring
// up host file I/O, CSV row parsing, and type inference around the
// writer/reader packages, none of which belong in the core engine itself.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CLI is the top-level command tree. Each subcommand mirrors one of the
// original driver's flags (-c, -a, -r, -b, -n).
var CLI struct {
	Verbose bool `help:"Enable debug-level logging." short:"v"`

	Create CreateCmd `cmd:"" help:"Create a new database and append rows to it."`
	Append AppendCmd `cmd:"" help:"Resume an existing database and append more rows."`
	Get    GetCmd    `cmd:"" help:"Look up a row by row-id."`
	Search SearchCmd `cmd:"" help:"Binary-search a row by a column's value."`
	Demo   DemoCmd   `cmd:"" help:"Run the canned hello-world and multilevel demos."`
}

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	kctx := kong.Parse(&CLI,
		kong.Name("ulogsqlite"),
		kong.Description("Append-only SQLite-format logger for memory-constrained writers."),
		kong.UsageOnError(),
	)

	if CLI.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	entry := logger.WithField("run_id", uuid.NewString())
	err := kctx.Run(&runCtx{log: entry})
	kctx.FatalIfErrorf(err)
}

// runCtx is passed to every subcommand's Run method: a log entry tagged with
// this invocation's correlation id. The subcommands hand the writer and
// reader the entry's underlying logger, so the engine's own log lines do not
// carry run_id.
type runCtx struct {
	log *logrus.Entry
}
