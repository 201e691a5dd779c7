package options

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"sigs.k8s.io/yaml"

	"github.com/edulution/moodle-connector/pkg/naming"
)

// ConfigPrinter emits a naming configuration for operator inspection.
type ConfigPrinter func(c *naming.Config) error

func DiscardConfigPrinter(*naming.Config) error {
	return nil
}

var _ ConfigPrinter = DiscardConfigPrinter

func JSONConfigPrinter(w io.Writer) ConfigPrinter {
	return func(c *naming.Config) error {
		configJSON, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(configJSON))
		return err
	}
}

func YAMLConfigPrinter(w io.Writer) ConfigPrinter {
	return func(c *naming.Config) error {
		configYAML, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(configYAML))
		return err
	}
}

// NamingOptions resolves the naming schema configuration: an explicit file
// (JSON or YAML) when given, the built-in defaults otherwise.
type NamingOptions struct {
	SchemaFile string

	Config    *naming.Config
	Processor *naming.Processor
}

// Complete loads and compiles the schema set. Invalid patterns fail here,
// eagerly, never mid-sync.
func (o *NamingOptions) Complete() error {
	if o.Config == nil {
		if o.SchemaFile != "" {
			log.Info().Str("config", o.SchemaFile).Msg("loading naming schemas from file")
			data, err := os.ReadFile(o.SchemaFile)
			if err != nil {
				return err
			}
			var cfg naming.Config
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parsing naming schema file: %w", err)
			}
			o.Config = &cfg
		} else {
			cfg := naming.DefaultConfig()
			o.Config = &cfg
		}
	}

	p, err := naming.NewProcessor(*o.Config)
	if err != nil {
		return err
	}
	o.Processor = p
	return nil
}
