package migrate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgconn"
)

// HealthCheck is one advisory post-import check.
type HealthCheck struct {
	Name string
	OK   bool
	Info string
}

func (c HealthCheck) String() string {
	state := "ok"
	if !c.OK {
		state = "FAILED"
	}
	if c.Info == "" {
		return fmt.Sprintf("health %s: %s", c.Name, state)
	}
	return fmt.Sprintf("health %s: %s (%s)", c.Name, state, c.Info)
}

func (im *Importer) healthCheck(ctx context.Context) []HealthCheck {
	var checks []HealthCheck

	_, err := os.Stat(filepath.Join(im.opts.MoodleDir, "config.php"))
	checks = append(checks, check("config.php", err))

	checks = append(checks, check("database", im.pool.Ping(ctx)))
	checks = append(checks, check("datadir", probeWritable(im.opts.DataDir)))
	checks = append(checks, im.loginSmokeTest(ctx))
	return checks
}

func check(name string, err error) HealthCheck {
	c := HealthCheck{Name: name, OK: err == nil}
	if err != nil {
		c.Info = err.Error()
	}
	return c
}

// loginSmokeTest fetches the login page of the freshly migrated site. Any
// response below 500 counts as alive; the site may legitimately redirect.
func (im *Importer) loginSmokeTest(ctx context.Context) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, im.opts.WWWRoot+"/login/index.php", nil)
	if err != nil {
		return HealthCheck{Name: "login page", Info: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return HealthCheck{Name: "login page", Info: err.Error()}
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return HealthCheck{Name: "login page", Info: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return HealthCheck{Name: "login page", OK: true, Info: fmt.Sprintf("status %d", resp.StatusCode)}
}

const configTemplate = `<?php  // Moodle configuration file

unset($CFG);
global $CFG;
$CFG = new stdClass();

$CFG->dbtype    = 'pgsql';
$CFG->dblibrary = 'native';
$CFG->dbhost    = '%s';
$CFG->dbname    = '%s';
$CFG->dbuser    = '%s';
$CFG->dbpass    = '%s';
$CFG->prefix    = '%s';
$CFG->dboptions = array(
  'dbpersist' => 0,
  'dbport' => %d,
  'dbsocket' => '',
);

$CFG->wwwroot   = '%s';
$CFG->dataroot  = '%s';
$CFG->admin     = 'admin';

$CFG->directorypermissions = 0770;

require_once(__DIR__ . '/lib/setup.php');
`

// writeConfigPHP regenerates config.php from the resolved connection and
// path parameters, replacing whatever the source site shipped.
func (im *Importer) writeConfigPHP() error {
	cfg, err := pgconn.ParseConfig(im.opts.DatabaseURI)
	if err != nil {
		return fmt.Errorf("parsing database URI: %w", err)
	}

	content := fmt.Sprintf(configTemplate,
		cfg.Host, cfg.Database, cfg.User, cfg.Password,
		im.opts.TablePrefix, cfg.Port, im.opts.WWWRoot, im.opts.DataDir)

	path := filepath.Join(im.opts.MoodleDir, "config.php")
	return os.WriteFile(path, []byte(content), 0o640)
}
