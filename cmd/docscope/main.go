// Command docscope ingests PDFs and searches them from the terminal, using
// the same data directory as the server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docscope/internal/app"
	"docscope/internal/logger"
)

// opener builds the runtime components; tests swap it for a fake.
type opener func(ctx context.Context) (app.Deps, error)

var verbose bool

func main() {
	if err := newRootCmd(openFromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

// openFromEnv builds the service like the server does, but logs warnings and
// errors as text on stderr so stdout stays clean for results.
func openFromEnv(ctx context.Context) (app.Deps, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Deps{}, err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	return app.BuildWith(ctx, cfg, logger.NewWithWriter(os.Stderr, level, "text"))
}

func newRootCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docscope",
		Short: "Index PDFs by section and find related passages",
		Long: `docscope splits PDFs into sections, embeds them and answers
"what else in my library talks about this?" for any selected text.

Configuration comes from the environment (and .env), the same as the server.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	cmd.AddCommand(
		newIngestCmd(open),
		newSearchCmd(open),
		newDocsCmd(open),
		newShowCmd(open),
		newDeleteCmd(open),
		newStatsCmd(open),
		newRebuildCmd(open),
	)
	return cmd
}

// withDeps opens the service, runs fn and saves on the way out.
func withDeps(cmd *cobra.Command, open opener, fn func(app.Deps) error) (err error) {
	deps, err := open(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if deps.Close == nil {
			return
		}
		if cerr := deps.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(deps)
}
