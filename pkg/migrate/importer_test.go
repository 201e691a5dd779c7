package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func writeTestArchive(t *testing.T, manifest string, plugins string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.zip")
	b, err := newZipBuilder(path)
	require.NoError(t, err)

	require.NoError(t, b.AddBytes(ManifestName, []byte(manifest)))

	var dump bytes.Buffer
	gz := gzip.NewWriter(&dump)
	_, err = gz.Write([]byte("CREATE TABLE mdl_config (id bigint);\nINSERT INTO mdl_config VALUES (1);\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, b.AddBytes(DatabaseDumpName, dump.Bytes()))

	if plugins != "" {
		require.NoError(t, b.AddBytes(PluginListName, []byte(plugins)))
	}
	require.NoError(t, b.AddBytes(DatafilesPrefix+"filedir/ab/abc123", []byte("payload")))
	require.NoError(t, b.Close())
	return path
}

const validManifest = `{
  "export_version": "1.0",
  "source_moodle": {"wwwroot": "https://old.school.example", "version": "2024042200", "dbtype": "pgsql"},
  "statistics": {"database_tables": 457, "database_size_bytes": 1048576, "plugins_total": 3, "plugins_additional": 1},
  "files": ["manifest.json", "database.sql.gz", "plugins.json"],
  "some_future_field": {"nested": true}
}`

func TestDryRunSucceedsWithUnreachableDatabase(t *testing.T) {
	archive := writeTestArchive(t, validManifest, `[{"component":"mod_attendance","version":"2024041600"}]`)

	im, err := NewImporter(Options{
		ArchivePath: archive,
		DatabaseURI: "postgres://nobody@127.0.0.1:1/absent",
		WWWRoot:     "https://new.school.example",
		DryRun:      true,
	})
	require.NoError(t, err)

	result, err := im.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Equal(t, StatusSuccess, result.Phase(PhasePreparation).Status)
	require.Equal(t, StatusSkippedDryRun, result.Phase(PhaseDatabase).Status)
	require.Equal(t, StatusSkippedDryRun, result.Phase(PhaseDatafiles).Status)
	require.Equal(t, StatusSkippedDryRun, result.Phase(PhasePlugins).Status)
	require.Equal(t, StatusSkippedDryRun, result.Phase(PhaseFinalize).Status)
}

func TestDryRunCleansUpWorkspace(t *testing.T) {
	archive := writeTestArchive(t, validManifest, "")

	im, err := NewImporter(Options{ArchivePath: archive, DryRun: true})
	require.NoError(t, err)

	_, err = im.Run(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(im.workdir)
	require.True(t, os.IsNotExist(statErr))
}

func TestMissingArchiveFailsPreparationOnly(t *testing.T) {
	im, err := NewImporter(Options{ArchivePath: "/does/not/exist.zip", DryRun: true})
	require.NoError(t, err)

	result, err := im.Run(context.Background())
	require.Error(t, err)
	require.False(t, result.Success)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, PhasePreparation, fatal.Phase)
	require.False(t, fatal.Irreversible)

	require.Equal(t, StatusFailed, result.Phase(PhasePreparation).Status)
	require.Equal(t, StatusSkipped, result.Phase(PhaseDatabase).Status)
	require.Equal(t, StatusSkipped, result.Phase(PhaseFinalize).Status)
}

func TestCorruptManifestIsFatal(t *testing.T) {
	archive := writeTestArchive(t, `{"export_version": `, "")

	im, err := NewImporter(Options{ArchivePath: archive, DryRun: true})
	require.NoError(t, err)

	result, err := im.Run(context.Background())
	require.Error(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Phase(PhasePreparation).Message, "malformed manifest")
}

func TestLiveImportRequiresConfirmation(t *testing.T) {
	_, err := NewImporter(Options{
		ArchivePath: "export.zip",
		DatabaseURI: "postgres://localhost/moodle",
		DataDir:     "/var/moodledata",
		MoodleDir:   "/var/www/moodle",
		WWWRoot:     "https://moodle.school.example",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "confirmation")
}

func TestLiveImportRequiresWWWRoot(t *testing.T) {
	// without a target base URL the rewrite would blank out every
	// occurrence of the old one
	_, err := NewImporter(Options{
		ArchivePath: "export.zip",
		DatabaseURI: "postgres://localhost/moodle",
		DataDir:     "/var/moodledata",
		MoodleDir:   "/var/www/moodle",
		ConfirmDrop: true,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "base URL")
}

func TestIrreversibleFatalErrorMessage(t *testing.T) {
	err := &FatalError{Phase: PhaseDatabase, Err: context.DeadlineExceeded, Irreversible: true}
	require.Contains(t, err.Error(), "rollback not possible")
	require.Contains(t, err.Error(), "manual recovery required")

	safe := &FatalError{Phase: PhasePreparation, Err: context.DeadlineExceeded}
	require.NotContains(t, safe.Error(), "rollback")
}

func TestManifestForwardCompatibility(t *testing.T) {
	m, err := ParseManifest([]byte(validManifest))
	require.NoError(t, err)
	require.Equal(t, "1.0", m.ExportVersion)
	require.Equal(t, "https://old.school.example", m.SourceMoodle.WWWRoot)
	require.Equal(t, 457, m.Statistics.DatabaseTables)
	require.True(t, m.HasFile(DatabaseDumpName))
	require.False(t, m.HasFile("datafiles.tar"))
}

func TestManifestValidation(t *testing.T) {
	_, err := ParseManifest([]byte(`{"source_moodle": {"wwwroot": "https://x"}}`))
	require.Error(t, err)

	_, err = ParseManifest([]byte(`{"export_version": "1.0", "source_moodle": {"wwwroot": "https://x", "dbtype": "mysqli"}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "dbtype")
}

func TestZipExtractionRejectsEscapingEntries(t *testing.T) {
	_, err := confinedPath("/tmp/work", "../../etc/passwd")
	require.Error(t, err)

	p, err := confinedPath("/tmp/work", "moodledata/filedir/ab/abc")
	require.NoError(t, err)
	require.Equal(t, "/tmp/work/moodledata/filedir/ab/abc", p)
}

func TestOpenDumpDecompresses(t *testing.T) {
	archive := writeTestArchive(t, validManifest, "")
	workdir := t.TempDir()
	require.NoError(t, extractZip(archive, workdir))

	r, err := openDump(workdir)
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "CREATE TABLE mdl_config")
}

func TestDumpScannerKeepsCopyBlocksIntact(t *testing.T) {
	dump := strings.Join([]string{
		"--",
		"-- Name: mdl_user; Type: TABLE",
		"--",
		"",
		"CREATE TABLE mdl_user (",
		"    id bigint,",
		"    username text",
		");",
		"",
		"COPY public.mdl_user (id, username) FROM stdin;",
		"1\tadmin",
		"2\ts;mith",
		`\.`,
		"",
		"ALTER TABLE mdl_user ADD PRIMARY KEY (id);",
		"",
	}, "\n")

	var units []dumpStatement
	require.NoError(t, scanDump(strings.NewReader(dump), func(st dumpStatement) error {
		units = append(units, st)
		return nil
	}))

	require.Len(t, units, 3)
	// the comment header was stripped, not glued onto the statement
	require.True(t, strings.HasPrefix(units[0].sql, "CREATE TABLE mdl_user"))
	require.False(t, units[0].isCopy)

	require.True(t, units[1].isCopy)
	require.Equal(t, "COPY public.mdl_user (id, username) FROM stdin;", units[1].sql)
	require.Equal(t, "1\tadmin\n2\ts;mith\n", units[1].copyData)

	// the data rows never leak into the following statement
	require.Equal(t, "ALTER TABLE mdl_user ADD PRIMARY KEY (id);", units[2].sql)
	require.False(t, units[2].isCopy)
}

func TestIsCopyFromStdin(t *testing.T) {
	require.True(t, isCopyFromStdin("COPY public.mdl_user (id) FROM stdin;"))
	require.True(t, isCopyFromStdin(`COPY mdl_config (name, value) FROM stdin`))
	require.False(t, isCopyFromStdin("COPY mdl_config TO stdout;"))
	require.False(t, isCopyFromStdin("CREATE TABLE mdl_copy (id bigint);"))
}
