// Package schema wires the schema command: inspect and test the naming
// configuration without a directory or database in reach.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jzelinskie/cobrautil"
	"github.com/spf13/cobra"

	"github.com/edulution/moodle-connector/pkg/naming"
	"github.com/edulution/moodle-connector/pkg/options"
	"github.com/edulution/moodle-connector/pkg/streams"
	"github.com/edulution/moodle-connector/pkg/util"
)

// NewSchemaCmd configures a new cobra command that prints the effective
// naming configuration, optionally resolving a sample group name.
func NewSchemaCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "schema",
		Short:   "show the effective naming schemas and test group names against them",
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.Out),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(); err != nil {
				return err
			}
			return o.Run(ctx, args)
		},
	}
	cmd.Flags().StringVar(&o.Naming.SchemaFile, "schema-file", "", "path to a naming schema config (JSON or YAML), built-in defaults when unset")
	cmd.Flags().BoolVar(&o.JSON, "json", false, "print the configuration as JSON instead of YAML")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Options holds options for the schema command.
type Options struct {
	streams.IO

	Naming options.NamingOptions
	JSON   bool

	printer options.ConfigPrinter
}

// NewOptions returns initialized Options.
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{IO: ioStreams}
}

// Complete loads and compiles the configuration.
func (o *Options) Complete() error {
	if err := o.Naming.Complete(); err != nil {
		return err
	}
	o.printer = options.YAMLConfigPrinter(o.IO.Out)
	if o.JSON {
		o.printer = options.JSONConfigPrinter(o.IO.Out)
	}
	return nil
}

// Run prints the configuration and, when group names were passed as
// arguments, resolves each through the processor.
func (o *Options) Run(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return o.printer(o.Naming.Config)
	}

	for _, name := range names {
		m, err := o.Naming.Processor.Process(name, "")
		if errors.Is(err, naming.ErrNoMatch) {
			fmt.Fprintf(o.IO.Out, "%s: no schema matches\n", name)
			continue
		}
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(o.IO.Out, "%s: %s\n", name, string(data))
	}
	return nil
}
