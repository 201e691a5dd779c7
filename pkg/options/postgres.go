package options

import (
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresOptions holds options for the moodle database connection.
type PostgresOptions struct {
	PostgresURI string
	TablePrefix string

	PoolConfig *pgxpool.Config
}

// Complete configures the pool from a URI if needed.
// Set either the URI or the config object, but not both.
func (o *PostgresOptions) Complete() error {
	if o.TablePrefix == "" {
		o.TablePrefix = "mdl_"
	}
	if o.PoolConfig != nil {
		log.Debug().Msg("postgres config already set, skipping postgres option validation")
		return nil
	}
	if o.PostgresURI == "" {
		return fmt.Errorf("must provide postgres uri or dsn")
	}
	cfg, err := pgxpool.ParseConfig(o.PostgresURI)
	if err != nil {
		return err
	}
	o.PoolConfig = cfg
	return nil
}
