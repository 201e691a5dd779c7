// Package migrate moves a complete moodle site between hosts: export
// produces a self-contained archive, import replays it into a fresh
// target through a strict five-phase pipeline.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"
)

// ManifestName is the archive entry describing the export.
const ManifestName = "manifest.json"

// Archive entry names. DatabaseDumpName is preferred; DatabaseDumpPlain is
// accepted for archives produced without compression.
const (
	DatabaseDumpName  = "database.sql.gz"
	DatabaseDumpPlain = "database.sql"
	PluginListName    = "plugins.json"
	ConfigBackupName  = "config_backup.json"
	DatafilesPrefix   = "moodledata/"
)

// Manifest describes one export archive. Unknown fields in newer manifests
// are ignored on parse, so older connectors can still import them.
type Manifest struct {
	ExportVersion string       `json:"export_version"`
	CreatedAt     string       `json:"created_at,omitempty"`
	SourceMoodle  SourceMoodle `json:"source_moodle"`
	Statistics    Statistics   `json:"statistics"`
	Files         []string     `json:"files"`
}

// SourceMoodle identifies the site the archive was taken from.
type SourceMoodle struct {
	WWWRoot string `json:"wwwroot"`
	Version string `json:"version"`
	Release string `json:"release,omitempty"`
	DBType  string `json:"dbtype"`
}

// Statistics summarizes the export's contents for preflight checks and
// operator display.
type Statistics struct {
	DatabaseTables    int   `json:"database_tables"`
	DatabaseSizeBytes int64 `json:"database_size_bytes"`
	DatafilesCount    int   `json:"datafiles_count,omitempty"`
	DatafilesBytes    int64 `json:"datafiles_bytes,omitempty"`
	PluginsTotal      int   `json:"plugins_total"`
	PluginsAdditional int   `json:"plugins_additional"`
}

// Plugin is one entry of the archive's plugins.json: an extension the
// source site had installed beyond core.
type Plugin struct {
	Component   string `json:"component"`
	Version     string `json:"version"`
	DownloadURL string `json:"download_url,omitempty"`
	// SHA256 pins the download when the exporter could compute it. Imports
	// verify it when present and refuse mismatching archives.
	SHA256 string `json:"sha256,omitempty"`
}

// ParseManifest decodes and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads a manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// Validate checks the fields an import cannot proceed without.
func (m *Manifest) Validate() error {
	if m.ExportVersion == "" {
		return fmt.Errorf("manifest missing export_version")
	}
	if m.SourceMoodle.WWWRoot == "" {
		return fmt.Errorf("manifest missing source_moodle.wwwroot")
	}
	if m.SourceMoodle.DBType != "" && m.SourceMoodle.DBType != "pgsql" && m.SourceMoodle.DBType != "postgres" {
		return fmt.Errorf("unsupported source dbtype %q", m.SourceMoodle.DBType)
	}
	return nil
}

// HasFile reports whether the manifest declares the named archive entry.
func (m *Manifest) HasFile(name string) bool {
	for _, f := range m.Files {
		if f == name {
			return true
		}
	}
	return false
}

// ParsePluginList decodes plugins.json.
func ParsePluginList(data []byte) ([]Plugin, error) {
	var plugins []Plugin
	if err := json.Unmarshal(data, &plugins); err != nil {
		return nil, fmt.Errorf("malformed plugin list: %w", err)
	}
	return plugins, nil
}
