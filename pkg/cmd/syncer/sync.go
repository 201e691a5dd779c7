// Package syncer wires the sync command: keycloak groups in, moodle
// users/courses/enrolments out.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edulution/moodle-connector/pkg/cache"
	"github.com/edulution/moodle-connector/pkg/moodle"
	"github.com/edulution/moodle-connector/pkg/options"
	"github.com/edulution/moodle-connector/pkg/streams"
	syncpkg "github.com/edulution/moodle-connector/pkg/sync"
	"github.com/edulution/moodle-connector/pkg/util"
)

// NewSyncCmd configures a new cobra command that syncs keycloak groups
// into moodle.
func NewSyncCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "sync",
		Short:   "sync keycloak groups and members into moodle",
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.Out),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.Keycloak.ServerURL, "keycloak-url", "", "base URL of the keycloak server")
	cmd.Flags().StringVar(&o.Keycloak.Realm, "keycloak-realm", "edulution", "keycloak realm to read groups from")
	cmd.Flags().StringVar(&o.Keycloak.ClientID, "keycloak-client-id", "", "client id for the keycloak admin API")
	cmd.Flags().StringVar(&o.Keycloak.ClientSecret, "keycloak-client-secret", "", "client secret for the keycloak admin API")
	cmd.Flags().IntVar(&o.Keycloak.PageSize, "keycloak-page-size", 100, "page size for keycloak list requests")
	cmd.Flags().StringVar(&o.Postgres.PostgresURI, "postgres", "", "address for the moodle postgres endpoint")
	cmd.Flags().StringVar(&o.Postgres.TablePrefix, "prefix", "mdl_", "moodle table prefix")
	cmd.Flags().StringVar(&o.Naming.SchemaFile, "schema-file", "", "path to a naming schema config (JSON or YAML), built-in defaults when unset")
	cmd.Flags().StringVar(&o.Mode, "mode", "full", "which phases to run: full, users, courses, enrolments")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "log changes that would be made without writing to moodle")
	cmd.Flags().StringVar(&o.CacheFile, "cache-file", "", "path to the change-detection cache, disabled when unset")
	cmd.Flags().StringVar(&o.ReportFile, "report-file", "", "write the sync report as JSON to this path")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Options holds options for the sync command.
type Options struct {
	streams.IO

	Keycloak options.KeycloakOptions
	Postgres options.PostgresOptions
	Naming   options.NamingOptions

	Mode       string
	DryRun     bool
	CacheFile  string
	ReportFile string

	mode     syncpkg.Mode
	detector *cache.Detector
}

// NewOptions returns initialized Options.
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{IO: ioStreams}
}

// Complete fills out default values before running.
func (o *Options) Complete() error {
	if err := o.Keycloak.Complete(); err != nil {
		return err
	}
	if err := o.Postgres.Complete(); err != nil {
		return err
	}
	if err := o.Naming.Complete(); err != nil {
		return err
	}
	mode, err := syncpkg.ParseMode(o.Mode)
	if err != nil {
		return err
	}
	o.mode = mode
	if o.CacheFile != "" {
		o.detector = cache.NewDetector(o.CacheFile)
	}
	return nil
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	log.Info().EmbedObject(util.LoggedConnConfig{ConnConfig: o.Postgres.PoolConfig.ConnConfig}).Msg("connecting to postgres")

	conn, err := pgxpool.ConnectConfig(ctx, o.Postgres.PoolConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	store := moodle.NewPgStore(conn, o.Postgres.TablePrefix)
	var writer moodle.Writer = moodle.NewLoggingWriter(store)
	if o.DryRun {
		writer = moodle.NewDryRunWriter()
	}

	manager := syncpkg.NewManager(o.Keycloak.Client, store, writer, o.Naming.Processor, syncpkg.Config{
		Mode:     o.mode,
		DryRun:   o.DryRun,
		PageSize: o.Keycloak.PageSize,
		Detector: o.detector,
	})

	report, err := manager.Run(ctx)
	if err != nil {
		return err
	}

	if o.ReportFile != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.ReportFile, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	for _, p := range report.Phases {
		ev := log.Info().Str("phase", p.Name)
		if p.Skipped {
			ev.Bool("skipped", true).Msg("phase skipped")
			continue
		}
		ev.Int("created", p.Created).Int("updated", p.Updated).
			Int("ignored", p.Ignored).Int("errors", p.Errors).Msg("phase complete")
	}

	if !report.Success() {
		return fmt.Errorf("sync finished with %d errors", report.ErrorCount())
	}
	fmt.Fprintln(o.IO.Out, "sync complete")
	return nil
}
