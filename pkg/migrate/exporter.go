package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/edulution/moodle-connector/pkg/pgschema"
)

// exportVersion identifies the archive layout this connector writes.
const exportVersion = "1.0"

// ExportOptions configures one export run.
type ExportOptions struct {
	OutputPath string

	DatabaseURI string
	TablePrefix string
	DataDir     string
	MoodleDir   string
	WWWRoot     string

	// SkipDatafiles leaves the moodledata payload out, producing a
	// database-and-plugins-only archive.
	SkipDatafiles bool

	CommandTimeout time.Duration
}

// Exporter produces a self-contained migration archive.
type Exporter struct {
	opts ExportOptions
	pool *pgxpool.Pool
}

func NewExporter(opts ExportOptions) (*Exporter, error) {
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.DatabaseURI == "" {
		return nil, fmt.Errorf("database URI is required")
	}
	if opts.TablePrefix == "" {
		opts.TablePrefix = "mdl_"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Minute
	}
	return &Exporter{opts: opts}, nil
}

// Execute builds the archive and returns the manifest it embedded.
func (ex *Exporter) Execute(ctx context.Context) (*Manifest, error) {
	pool, err := pgxpool.Connect(ctx, ex.opts.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	ex.pool = pool
	defer pool.Close()

	workdir := filepath.Join(os.TempDir(), "moodle-export-"+uuid.NewString())
	if err := os.MkdirAll(workdir, 0o700); err != nil {
		return nil, err
	}
	defer os.RemoveAll(workdir)

	dumpPath := filepath.Join(workdir, DatabaseDumpName)
	dumpBytes, err := ex.dumpDatabase(ctx, dumpPath)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("bytes", dumpBytes).Msg("database dump written")

	tables, err := pgschema.ScanPrefixTables(ctx, pool, ex.opts.TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("scanning tables: %w", err)
	}

	plugins := ex.scanPlugins()
	configBackup, err := ex.readConfig(ctx)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		ExportVersion: exportVersion,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		SourceMoodle: SourceMoodle{
			WWWRoot: ex.opts.WWWRoot,
			Version: pluginVersion(filepath.Join(ex.opts.MoodleDir, "version.php")),
			DBType:  "pgsql",
		},
		Statistics: Statistics{
			DatabaseTables:    len(tables),
			DatabaseSizeBytes: dumpBytes,
			PluginsTotal:      len(plugins),
			PluginsAdditional: countAdditional(plugins),
		},
		Files: []string{ManifestName, DatabaseDumpName, PluginListName, ConfigBackupName},
	}

	return manifest, ex.writeArchive(manifest, dumpPath, plugins, configBackup)
}

// dumpDatabase streams pg_dump's plain-SQL output through gzip into path
// and returns the uncompressed byte count.
func (ex *Exporter) dumpDatabase(ctx context.Context, path string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, ex.opts.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pg_dump", "--no-owner", "--no-privileges", "--format=plain", ex.opts.DatabaseURI)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting pg_dump: %w", err)
	}
	n, copyErr := gzipToFile(path, stdout)
	if err := cmd.Wait(); err != nil {
		return n, fmt.Errorf("pg_dump: %w", err)
	}
	if copyErr != nil {
		return n, copyErr
	}
	return n, nil
}

// scanPlugins walks the moodle tree's plugin directories and records every
// component carrying a version.php.
func (ex *Exporter) scanPlugins() []Plugin {
	var plugins []Plugin
	for typ, dir := range pluginTypeDirs {
		base := filepath.Join(ex.opts.MoodleDir, dir)
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			version := pluginVersion(filepath.Join(base, e.Name(), "version.php"))
			if version == "" {
				continue
			}
			plugins = append(plugins, Plugin{
				Component: typ + "_" + e.Name(),
				Version:   version,
			})
		}
	}
	return plugins
}

func countAdditional(plugins []Plugin) int {
	n := 0
	for _, p := range plugins {
		if !isCoreComponent(p.Component) {
			n++
		}
	}
	return n
}

// readConfig snapshots the site's persisted configuration values.
func (ex *Exporter) readConfig(ctx context.Context) (map[string]string, error) {
	rows, err := ex.pool.Query(ctx, fmt.Sprintf(`SELECT name, value FROM %q`, ex.opts.TablePrefix+"config"))
	if err != nil {
		return nil, fmt.Errorf("reading site configuration: %w", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		config[name] = value
	}
	return config, rows.Err()
}

func (ex *Exporter) writeArchive(manifest *Manifest, dumpPath string, plugins []Plugin, config map[string]string) error {
	b, err := newZipBuilder(ex.opts.OutputPath)
	if err != nil {
		return err
	}

	// data files go in first so their count lands in the manifest
	if !ex.opts.SkipDatafiles && ex.opts.DataDir != "" {
		count, err := b.AddTree(DatafilesPrefix, ex.opts.DataDir)
		if err != nil {
			b.Close()
			return fmt.Errorf("archiving data files: %w", err)
		}
		manifest.Statistics.DatafilesCount = count
		log.Info().Int("files", count).Msg("data files archived")
	}

	steps := []func() error{
		func() error {
			data, err := json.MarshalIndent(manifest, "", "  ")
			if err != nil {
				return err
			}
			return b.AddBytes(ManifestName, data)
		},
		func() error { return b.AddFile(DatabaseDumpName, dumpPath) },
		func() error {
			data, err := json.MarshalIndent(plugins, "", "  ")
			if err != nil {
				return err
			}
			return b.AddBytes(PluginListName, data)
		},
		func() error {
			data, err := json.MarshalIndent(config, "", "  ")
			if err != nil {
				return err
			}
			return b.AddBytes(ConfigBackupName, data)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.Close()
			return err
		}
	}

	return b.Close()
}
