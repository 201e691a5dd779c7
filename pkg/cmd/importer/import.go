// Package importer wires the import command: replay a full-site export
// archive into this host.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jzelinskie/cobrautil"
	"github.com/spf13/cobra"

	"github.com/edulution/moodle-connector/pkg/migrate"
	"github.com/edulution/moodle-connector/pkg/streams"
	"github.com/edulution/moodle-connector/pkg/util"
)

// NewImportCmd configures a new cobra command that imports a site archive.
func NewImportCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "import",
		Short:   "import a full-site export archive into this moodle instance",
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.Out),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.Import.ArchivePath, "file", "", "path to the export archive (zip)")
	cmd.Flags().StringVar(&o.Import.DatabaseURI, "postgres", "", "address for the target postgres endpoint")
	cmd.Flags().StringVar(&o.Import.TablePrefix, "prefix", "mdl_", "moodle table prefix")
	cmd.Flags().StringVar(&o.Import.DataDir, "data-dir", "", "target moodledata directory")
	cmd.Flags().StringVar(&o.Import.MoodleDir, "moodle-dir", "", "target moodle code directory")
	cmd.Flags().StringVar(&o.Import.WWWRoot, "wwwroot", "", "base URL of the target site")
	cmd.Flags().BoolVar(&o.Import.DryRun, "dry-run", false, "validate the archive and report what would happen without changing anything")
	cmd.Flags().BoolVar(&o.Import.ConfirmDrop, "confirm-destructive", false, "confirm that existing tables may be dropped and the data directory cleared")
	cmd.Flags().BoolVar(&o.Import.SkipPlugins, "skip-plugins", false, "skip the plugin installation phase")
	cmd.Flags().StringVar(&o.Import.AdminPassword, "admin-password", "", "reset the admin account to this password after the restore")
	cmd.Flags().DurationVar(&o.Import.CommandTimeout, "command-timeout", 30*time.Minute, "timeout for each external tool invocation")
	cmd.Flags().StringVar(&o.ReportFile, "report-file", "", "write the per-phase result as JSON to this path")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Options holds options for the import command.
type Options struct {
	streams.IO

	Import     migrate.Options
	ReportFile string
}

// NewOptions returns initialized Options.
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{IO: ioStreams}
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	o.Import.Progress = func(phase migrate.Phase, step, message string) {
		fmt.Fprintf(o.IO.Out, "[%s/%s] %s\n", phase, step, message)
	}

	im, err := migrate.NewImporter(o.Import)
	if err != nil {
		return err
	}

	result, runErr := im.Run(ctx)
	if result != nil {
		for _, p := range result.Phases {
			fmt.Fprintf(o.IO.Out, "%-12s %s", p.Phase, p.Status)
			if p.Message != "" {
				fmt.Fprintf(o.IO.Out, ": %s", p.Message)
			}
			fmt.Fprintln(o.IO.Out)
		}
		if o.ReportFile != "" {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(o.ReportFile, data, 0o644); err != nil {
				return err
			}
		}
	}

	var fatal *migrate.FatalError
	if errors.As(runErr, &fatal) && fatal.Irreversible {
		fmt.Fprintln(o.IO.ErrOut, "WARNING: the import failed after destructive changes were applied.")
		fmt.Fprintln(o.IO.ErrOut, "The target is in a partial state; restore from backup or re-run against a clean target.")
	}
	return runErr
}
