// Package replaceurl wires the replace-url command: rewrite a site's base
// URL across every text column of the moodle schema.
package replaceurl

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edulution/moodle-connector/pkg/options"
	"github.com/edulution/moodle-connector/pkg/streams"
	"github.com/edulution/moodle-connector/pkg/urlreplace"
	"github.com/edulution/moodle-connector/pkg/util"
)

// NewReplaceURLCmd configures a new cobra command that rewrites the site
// base URL in the moodle database.
func NewReplaceURLCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "replace-url",
		Short:   "replace the old site base URL with the new one across the moodle database",
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.Out),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.Postgres.PostgresURI, "postgres", "", "address for the moodle postgres endpoint")
	cmd.Flags().StringVar(&o.Postgres.TablePrefix, "prefix", "mdl_", "moodle table prefix")
	cmd.Flags().StringVar(&o.OldURL, "old", "", "base URL to replace")
	cmd.Flags().StringVar(&o.NewURL, "new", "", "base URL to replace it with")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "count matches without writing")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Options holds options for the replace-url command.
type Options struct {
	streams.IO

	Postgres options.PostgresOptions
	OldURL   string
	NewURL   string
	DryRun   bool
}

// NewOptions returns initialized Options.
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{IO: ioStreams}
}

// Complete fills out default values before running.
func (o *Options) Complete() error {
	if o.OldURL == "" || o.NewURL == "" {
		return fmt.Errorf("must provide both --old and --new base URLs")
	}
	if o.OldURL == o.NewURL {
		return fmt.Errorf("old and new base URLs are identical")
	}
	// trailing slashes would leave half-rewritten URLs behind
	o.OldURL = strings.TrimRight(o.OldURL, "/")
	o.NewURL = strings.TrimRight(o.NewURL, "/")
	return o.Postgres.Complete()
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	log.Info().EmbedObject(util.LoggedConnConfig{ConnConfig: o.Postgres.PoolConfig.ConnConfig}).Msg("connecting to postgres")

	conn, err := pgxpool.ConnectConfig(ctx, o.Postgres.PoolConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	replacer := urlreplace.NewReplacer(conn, o.Postgres.TablePrefix)

	var result *urlreplace.Result
	if o.DryRun {
		result, err = replacer.Preview(ctx, o.OldURL, o.NewURL)
	} else {
		result, err = replacer.ReplaceAll(ctx, o.OldURL, o.NewURL)
	}
	if err != nil {
		return err
	}

	for _, e := range result.Entries {
		fmt.Fprintf(o.IO.Out, "%s.%s: %d\n", e.Table, e.Column, e.Count)
	}
	if o.DryRun {
		fmt.Fprintf(o.IO.Out, "dry run: %d occurrences would be replaced\n", result.Total)
		return nil
	}
	fmt.Fprintf(o.IO.Out, "replaced %d occurrences\n", result.Total)
	return nil
}
