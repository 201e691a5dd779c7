// Package exporter wires the export command: snapshot a live site into a
// migration archive.
package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/jzelinskie/cobrautil"
	"github.com/spf13/cobra"

	"github.com/edulution/moodle-connector/pkg/migrate"
	"github.com/edulution/moodle-connector/pkg/streams"
	"github.com/edulution/moodle-connector/pkg/util"
)

// NewExportCmd configures a new cobra command that exports the site.
func NewExportCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "export this moodle instance into a migration archive",
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.Out),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.Export.OutputPath, "file", "", "path the archive is written to")
	cmd.Flags().StringVar(&o.Export.DatabaseURI, "postgres", "", "address for the moodle postgres endpoint")
	cmd.Flags().StringVar(&o.Export.TablePrefix, "prefix", "mdl_", "moodle table prefix")
	cmd.Flags().StringVar(&o.Export.DataDir, "data-dir", "", "moodledata directory to include")
	cmd.Flags().StringVar(&o.Export.MoodleDir, "moodle-dir", "", "moodle code directory, used for version and plugin discovery")
	cmd.Flags().StringVar(&o.Export.WWWRoot, "wwwroot", "", "base URL of this site, recorded in the manifest")
	cmd.Flags().BoolVar(&o.Export.SkipDatafiles, "skip-datafiles", false, "leave the moodledata payload out of the archive")
	cmd.Flags().DurationVar(&o.Export.CommandTimeout, "command-timeout", 30*time.Minute, "timeout for the pg_dump invocation")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Options holds options for the export command.
type Options struct {
	streams.IO

	Export migrate.ExportOptions
}

// NewOptions returns initialized Options.
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{IO: ioStreams}
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	ex, err := migrate.NewExporter(o.Export)
	if err != nil {
		return err
	}
	manifest, err := ex.Execute(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.IO.Out, "exported %d tables, %d plugins (%d additional), %d data files to %s\n",
		manifest.Statistics.DatabaseTables,
		manifest.Statistics.PluginsTotal,
		manifest.Statistics.PluginsAdditional,
		manifest.Statistics.DatafilesCount,
		o.Export.OutputPath)
	return nil
}
