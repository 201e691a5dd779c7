// Package classifier wires the classify command, a read-only vetting pass
// over the directory's group names.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jzelinskie/cobrautil"
	"github.com/spf13/cobra"

	"github.com/edulution/moodle-connector/pkg/classify"
	"github.com/edulution/moodle-connector/pkg/options"
	"github.com/edulution/moodle-connector/pkg/streams"
	"github.com/edulution/moodle-connector/pkg/util"
)

// NewClassifyCmd configures a new cobra command that buckets keycloak
// group names without touching moodle.
func NewClassifyCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:     "classify",
		Short:   "show how keycloak group names would be bucketed by the sync",
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.Out),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Keycloak.Complete(); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.Keycloak.ServerURL, "keycloak-url", "", "base URL of the keycloak server")
	cmd.Flags().StringVar(&o.Keycloak.Realm, "keycloak-realm", "edulution", "keycloak realm to read groups from")
	cmd.Flags().StringVar(&o.Keycloak.ClientID, "keycloak-client-id", "", "client id for the keycloak admin API")
	cmd.Flags().StringVar(&o.Keycloak.ClientSecret, "keycloak-client-secret", "", "client secret for the keycloak admin API")
	cobrautil.RegisterZeroLogFlags(cmd.Flags())

	return cmd
}

// Options holds options for the classify command.
type Options struct {
	streams.IO

	Keycloak options.KeycloakOptions
}

// NewOptions returns initialized Options.
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{IO: ioStreams}
}

type summaryOutput struct {
	Total    int      `json:"total"`
	Classes  int      `json:"classes"`
	Teachers int      `json:"teachers"`
	Projects int      `json:"projects"`
	Ignored  int      `json:"ignored"`
	Unknown  []string `json:"unknown,omitempty"`
}

// Run fetches all groups and prints the classification distribution.
func (o *Options) Run(ctx context.Context) error {
	groups, err := o.Keycloak.Client.GetAllGroups(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}

	s := classify.NewClassifier().TestPatterns(names)
	out := summaryOutput{
		Total:    s.Total(),
		Classes:  s.Counts[classify.TypeClass],
		Teachers: s.Counts[classify.TypeTeacher],
		Projects: s.Counts[classify.TypeProject],
		Ignored:  s.Counts[classify.TypeIgnore],
		Unknown:  s.Unknown,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(o.IO.Out, string(data))
	return err
}
