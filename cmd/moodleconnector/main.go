package main

import (
	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edulution/moodle-connector/pkg/cmd/classifier"
	"github.com/edulution/moodle-connector/pkg/cmd/exporter"
	"github.com/edulution/moodle-connector/pkg/cmd/importer"
	"github.com/edulution/moodle-connector/pkg/cmd/replaceurl"
	"github.com/edulution/moodle-connector/pkg/cmd/schema"
	"github.com/edulution/moodle-connector/pkg/cmd/syncer"
	"github.com/edulution/moodle-connector/pkg/signals"
	"github.com/edulution/moodle-connector/pkg/streams"
)

func main() {
	s := streams.NewStdIO()
	ctx := signals.Context()
	rootCmd := &cobra.Command{
		Use:               "moodleconnector",
		Short:             "Sync keycloak groups into moodle and migrate full moodle sites",
		PersistentPreRunE: cobrautil.SyncViperPreRunE("moodleconnector"),
	}

	rootCmd.AddCommand(syncer.NewSyncCmd(ctx, s))
	rootCmd.AddCommand(classifier.NewClassifyCmd(ctx, s))
	rootCmd.AddCommand(schema.NewSchemaCmd(ctx, s))
	rootCmd.AddCommand(replaceurl.NewReplaceURLCmd(ctx, s))
	rootCmd.AddCommand(importer.NewImportCmd(ctx, s))
	rootCmd.AddCommand(exporter.NewExportCmd(ctx, s))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err)
	}
}
