package migrate

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pluginZip(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name + "/version.php")
	require.NoError(t, err)
	_, err = w.Write([]byte("<?php\n$plugin->version = 2024041600;\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReconcileInstallsMissingPlugin(t *testing.T) {
	archive := pluginZip(t, "attendance")
	sum := sha256.Sum256(archive)

	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	moodleDir := t.TempDir()
	pi := newPluginInstaller(moodleDir, "", time.Minute)

	declared := []Plugin{
		{Component: "mod_forum", Version: "x"}, // core, skipped
		{
			Component:   "mod_attendance",
			Version:     "2024041600",
			DownloadURL: srv.URL + "/download",
			SHA256:      hex.EncodeToString(sum[:]),
		},
	}

	installed, failures := pi.reconcile(context.Background(), declared, func(string, string) {})
	require.Empty(t, failures)
	require.Equal(t, 1, installed)
	require.Equal(t, "2024041600", InstalledVersion(moodleDir, "mod_attendance"))
}

func TestReconcileSkipsAlreadyInstalled(t *testing.T) {
	moodleDir := t.TempDir()
	dir := filepath.Join(moodleDir, "mod", "attendance")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version.php"),
		[]byte("<?php\n$plugin->version = 2024041600;\n"), 0o644))

	pi := newPluginInstaller(moodleDir, "", time.Minute)
	installed, failures := pi.reconcile(context.Background(),
		[]Plugin{{Component: "mod_attendance", Version: "2024041600"}},
		func(string, string) {})
	require.Empty(t, failures)
	require.Zero(t, installed)
}

func TestChecksumMismatchFailsPlugin(t *testing.T) {
	archive := pluginZip(t, "attendance")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	pi := newPluginInstaller(t.TempDir(), "", time.Minute)
	_, failures := pi.reconcile(context.Background(), []Plugin{{
		Component:   "mod_attendance",
		Version:     "2024041600",
		DownloadURL: srv.URL,
		SHA256:      "deadbeef",
	}}, func(string, string) {})
	require.Len(t, failures, 1)
	require.Contains(t, failures[0], "checksum mismatch")
}

func TestResolveDownloadURLPrefersExactVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "mod_attendance@2024041600", r.URL.Query().Get("plugin"))
		w.Write([]byte(`{"pluginfo": {"component": "mod_attendance", "versions": [
			{"version": "2025010100", "downloadurl": "https://downloads.example/newest.zip"},
			{"version": "2024041600", "downloadurl": "https://downloads.example/exact.zip"}
		]}}`))
	}))
	defer srv.Close()

	pi := newPluginInstaller(t.TempDir(), srv.URL, time.Minute)
	url, err := pi.resolveDownloadURL(context.Background(), Plugin{Component: "mod_attendance", Version: "2024041600"})
	require.NoError(t, err)
	require.Equal(t, "https://downloads.example/exact.zip", url)

	url, err = pi.resolveDownloadURL(context.Background(), Plugin{Component: "mod_attendance", Version: "2023000000"})
	require.NoError(t, err)
	require.Equal(t, "https://downloads.example/newest.zip", url)
}

func TestExporterScanPluginsFindsNonCore(t *testing.T) {
	moodleDir := t.TempDir()
	for _, dir := range []string{"mod/attendance", "mod/forum", "blocks/xp"} {
		full := filepath.Join(moodleDir, dir)
		require.NoError(t, os.MkdirAll(full, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(full, "version.php"),
			[]byte("<?php\n$plugin->version = 2024041600;\n"), 0o644))
	}

	ex := &Exporter{opts: ExportOptions{MoodleDir: moodleDir}}
	plugins := ex.scanPlugins()
	require.Len(t, plugins, 3)
	require.Equal(t, 2, countAdditional(plugins))
}
