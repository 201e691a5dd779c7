package migrate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/edulution/moodle-connector/pkg/pgschema"
	"github.com/edulution/moodle-connector/pkg/urlreplace"
)

// Phase names the five pipeline stages in execution order.
type Phase string

const (
	PhasePreparation Phase = "preparation"
	PhaseDatabase    Phase = "database"
	PhaseDatafiles   Phase = "datafiles"
	PhasePlugins     Phase = "plugins"
	PhaseFinalize    Phase = "finalize"
)

var allPhases = []Phase{PhasePreparation, PhaseDatabase, PhaseDatafiles, PhasePlugins, PhaseFinalize}

// Phase status values.
const (
	StatusSuccess       = "success"
	StatusFailed        = "failed"
	StatusSkipped       = "skipped"
	StatusSkippedDryRun = "skipped (dry run)"
)

// PhaseOutcome records one phase's result.
type PhaseOutcome struct {
	Phase    Phase         `json:"phase"`
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Details  []string      `json:"details,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Result is the outcome of one import run.
type Result struct {
	RunID   string         `json:"run_id"`
	Phases  []PhaseOutcome `json:"phases"`
	Success bool           `json:"success"`
}

// Phase returns the named phase outcome, or nil.
func (r *Result) Phase(p Phase) *PhaseOutcome {
	for i := range r.Phases {
		if r.Phases[i].Phase == p {
			return &r.Phases[i]
		}
	}
	return nil
}

// FatalError aborts the pipeline. Irreversible marks failures that happen
// after destructive work (dropped tables, cleared data directory) already
// took place; those must be surfaced differently because a retry is not
// safe without manual recovery.
type FatalError struct {
	Phase        Phase
	Err          error
	Irreversible bool
}

func (e *FatalError) Error() string {
	if e.Irreversible {
		return fmt.Sprintf("%s phase failed after destructive changes, rollback not possible, manual recovery required: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ProgressFunc receives per-step notifications while the import runs.
type ProgressFunc func(phase Phase, step, message string)

// Options configures an import run. All mutating behavior is opt-in:
// DryRun validates without touching the target, and ConfirmDrop must be
// set for the table-drop and data-directory-clear steps to run at all.
type Options struct {
	ArchivePath string

	// Target site.
	DatabaseURI string
	TablePrefix string
	DataDir     string
	MoodleDir   string
	WWWRoot     string

	DryRun      bool
	ConfirmDrop bool
	SkipPlugins bool

	// AdminPassword, when set, resets the admin account's password after
	// the database restore.
	AdminPassword string

	// CommandTimeout bounds each external tool invocation (psql, php,
	// moosh). Zero means 30 minutes.
	CommandTimeout time.Duration

	// PluginDirectoryURL overrides the public plugin directory endpoint.
	PluginDirectoryURL string

	Progress ProgressFunc
}

// Importer executes the pipeline once. Phases run strictly in order and
// never re-enter; the first fatal error aborts the remaining phases.
type Importer struct {
	opts     Options
	workdir  string
	manifest *Manifest
	plugins  []Plugin
	pool     *pgxpool.Pool

	// irreversible flips once destructive work started, upgrading any
	// later fatal error's message.
	irreversible bool
}

// NewImporter validates the options that can be checked without I/O.
func NewImporter(opts Options) (*Importer, error) {
	if opts.ArchivePath == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	if opts.TablePrefix == "" {
		opts.TablePrefix = "mdl_"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Minute
	}
	if opts.Progress == nil {
		opts.Progress = func(phase Phase, step, message string) {
			log.Info().Str("phase", string(phase)).Str("step", step).Msg(message)
		}
	}
	if !opts.DryRun {
		if opts.DatabaseURI == "" {
			return nil, fmt.Errorf("database URI is required for a live import")
		}
		if opts.DataDir == "" || opts.MoodleDir == "" {
			return nil, fmt.Errorf("data directory and moodle directory are required for a live import")
		}
		if opts.WWWRoot == "" {
			return nil, fmt.Errorf("the new site's base URL is required for a live import")
		}
		if !opts.ConfirmDrop {
			return nil, fmt.Errorf("a live import drops all %s* tables and clears the data directory; pass the confirmation flag to proceed", opts.TablePrefix)
		}
	}
	return &Importer{opts: opts}, nil
}

// Run executes the pipeline. The temp workspace is removed on every exit
// path. The returned Result always lists all five phases; on a fatal error
// the failed phase is marked and the remaining ones are skipped.
func (im *Importer) Run(ctx context.Context) (*Result, error) {
	result := &Result{RunID: uuid.NewString()}

	defer func() {
		if im.workdir != "" {
			if err := os.RemoveAll(im.workdir); err != nil {
				log.Warn().Err(err).Str("dir", im.workdir).Msg("could not remove temp workspace")
			}
		}
		if im.pool != nil {
			im.pool.Close()
		}
	}()

	var fatal *FatalError
	for _, phase := range allPhases {
		if fatal != nil {
			result.Phases = append(result.Phases, PhaseOutcome{Phase: phase, Status: StatusSkipped, Message: "aborted by earlier failure"})
			continue
		}
		outcome := im.runPhase(ctx, phase)
		result.Phases = append(result.Phases, outcome)
		if outcome.Status == StatusFailed {
			fatal = &FatalError{Phase: phase, Err: fmt.Errorf("%s", outcome.Message), Irreversible: im.irreversible}
		}
	}

	result.Success = fatal == nil
	if fatal != nil {
		return result, fatal
	}
	return result, nil
}

func (im *Importer) runPhase(ctx context.Context, phase Phase) PhaseOutcome {
	started := time.Now()
	outcome := PhaseOutcome{Phase: phase, Status: StatusSuccess}

	var err error
	switch phase {
	case PhasePreparation:
		err = im.prepare(ctx, &outcome)
	case PhaseDatabase:
		err = im.importDatabase(ctx, &outcome)
	case PhaseDatafiles:
		err = im.copyDatafiles(ctx, &outcome)
	case PhasePlugins:
		err = im.installPlugins(ctx, &outcome)
	case PhaseFinalize:
		err = im.finalize(ctx, &outcome)
	}
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Message = err.Error()
		log.Error().Err(err).Str("phase", string(phase)).Msg("import phase failed")
	}
	outcome.Duration = time.Since(started)
	return outcome
}

func (im *Importer) step(phase Phase, step, format string, args ...interface{}) {
	im.opts.Progress(phase, step, fmt.Sprintf(format, args...))
}

// prepare is the only phase that runs in full during a dry run: every step
// is read-only validation, so failing here is always safe.
func (im *Importer) prepare(ctx context.Context, outcome *PhaseOutcome) error {
	info, err := os.Stat(im.opts.ArchivePath)
	if err != nil {
		return fmt.Errorf("archive not accessible: %w", err)
	}
	im.step(PhasePreparation, "archive", "archive %s (%d bytes)", im.opts.ArchivePath, info.Size())

	im.workdir = filepath.Join(os.TempDir(), "moodle-import-"+uuid.NewString())
	if err := os.MkdirAll(im.workdir, 0o700); err != nil {
		return fmt.Errorf("creating temp workspace: %w", err)
	}

	// extraction plus working copies need headroom well beyond the
	// archive itself
	required := uint64(info.Size()) * 3
	free, err := diskFree(im.workdir)
	if err != nil {
		return fmt.Errorf("checking free disk space: %w", err)
	}
	if free < required {
		return fmt.Errorf("not enough disk space: need %d bytes free, have %d", required, free)
	}
	im.step(PhasePreparation, "disk", "disk space ok (%d bytes free, %d required)", free, required)

	if err := extractZip(im.opts.ArchivePath, im.workdir); err != nil {
		return err
	}

	im.manifest, err = LoadManifest(filepath.Join(im.workdir, ManifestName))
	if err != nil {
		return err
	}
	im.step(PhasePreparation, "manifest", "export %s from %s (moodle %s, %d tables)",
		im.manifest.ExportVersion, im.manifest.SourceMoodle.WWWRoot,
		im.manifest.SourceMoodle.Version, im.manifest.Statistics.DatabaseTables)

	if data, err := os.ReadFile(filepath.Join(im.workdir, PluginListName)); err == nil {
		im.plugins, err = ParsePluginList(data)
		if err != nil {
			return err
		}
	}

	if im.opts.DryRun {
		outcome.Details = append(outcome.Details, "dry run: database connectivity and data directory checks deferred to live run")
		return nil
	}

	im.pool, err = pgxpool.Connect(ctx, im.opts.DatabaseURI)
	if err != nil {
		return fmt.Errorf("target database unreachable: %w", err)
	}
	if err := im.pool.Ping(ctx); err != nil {
		return fmt.Errorf("target database unreachable: %w", err)
	}
	im.step(PhasePreparation, "database", "target database reachable")

	if err := probeWritable(im.opts.DataDir); err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	return nil
}

func (im *Importer) importDatabase(ctx context.Context, outcome *PhaseOutcome) error {
	if im.opts.DryRun {
		outcome.Status = StatusSkippedDryRun
		outcome.Message = "would drop existing tables, restore dump, rewrite base URL"
		return nil
	}

	tables, err := pgschema.ScanPrefixTables(ctx, im.pool, im.opts.TablePrefix)
	if err != nil {
		return fmt.Errorf("scanning existing tables: %w", err)
	}
	if len(tables) > 0 {
		// point of no return
		im.irreversible = true
		log.Warn().Int("tables", len(tables)).Str("prefix", im.opts.TablePrefix).
			Msg("dropping existing tables, this cannot be undone")
		for _, t := range tables {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := im.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q CASCADE`, t.Name)); err != nil {
				return fmt.Errorf("dropping table %s: %w", t.Name, err)
			}
		}
		im.step(PhaseDatabase, "drop", "dropped %d existing tables", len(tables))
	}

	if err := im.restoreDump(ctx, outcome); err != nil {
		return err
	}

	replacer := urlreplace.NewReplacer(im.pool, im.opts.TablePrefix)
	res, err := replacer.ReplaceAll(ctx, im.manifest.SourceMoodle.WWWRoot, im.opts.WWWRoot)
	if err != nil {
		return fmt.Errorf("rewriting base URL: %w", err)
	}
	im.step(PhaseDatabase, "urls", "rewrote %d occurrences of %s", res.Total, im.manifest.SourceMoodle.WWWRoot)
	outcome.Details = append(outcome.Details, fmt.Sprintf("url rewrites: %d", res.Total))

	if im.opts.AdminPassword != "" {
		if err := im.resetAdminPassword(ctx); err != nil {
			return fmt.Errorf("resetting admin password: %w", err)
		}
		outcome.Details = append(outcome.Details, "admin password reset")
	}
	return nil
}

// restoreDump prefers a psql bulk load and falls back to a tolerant
// statement-by-statement loader when psql is unavailable or exits nonzero.
func (im *Importer) restoreDump(ctx context.Context, outcome *PhaseOutcome) error {
	dump, err := openDump(im.workdir)
	if err != nil {
		return err
	}

	if psql, lookErr := exec.LookPath("psql"); lookErr == nil {
		err := im.runPsql(ctx, psql, dump)
		dump.Close()
		if err == nil {
			im.step(PhaseDatabase, "restore", "restored dump via psql")
			return nil
		}
		log.Warn().Err(err).Msg("psql bulk restore failed, falling back to statement loader")
		if dump, err = openDump(im.workdir); err != nil {
			return err
		}
	}
	defer dump.Close()

	applied, failed, err := im.loadStatements(ctx, dump)
	if err != nil {
		return err
	}
	im.step(PhaseDatabase, "restore", "restored dump statement by statement (%d applied, %d failed)", applied, failed)
	if failed > 0 {
		outcome.Details = append(outcome.Details, fmt.Sprintf("restore: %d statements failed and were skipped", failed))
	}
	return nil
}

func (im *Importer) runPsql(ctx context.Context, psql string, dump io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, im.opts.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, psql, "--quiet", "--set", "ON_ERROR_STOP=0", im.opts.DatabaseURI)
	cmd.Stdin = dump
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("psql: %w: %s", err, firstLine(out))
	}
	return nil
}

// dumpStatement is one executable unit of a plain-format dump: either a
// regular SQL statement, or a COPY ... FROM stdin statement together with
// its raw tab-separated data block.
type dumpStatement struct {
	sql      string
	copyData string
	isCopy   bool
}

// scanDump splits a plain-format dump into executable units. pg_dump emits
// table data as COPY blocks terminated by a lone `\.`; the data rows are
// free-form bytes and must never be interpreted as SQL, so the scanner
// consumes the whole block into one unit instead of splitting on `;`.
func scanDump(dump io.Reader, emit func(dumpStatement) error) error {
	scanner := bufio.NewScanner(dump)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var stmt strings.Builder
	var copyData strings.Builder
	var copySQL string
	inCopy := false

	flush := func() error {
		// comment headers don't end in ';' and ride along with the
		// statement they precede
		sql := stripLeadingComments(stmt.String())
		stmt.Reset()
		if sql == "" {
			return nil
		}
		if isCopyFromStdin(sql) {
			inCopy = true
			copySQL = sql
			return nil
		}
		return emit(dumpStatement{sql: sql})
	}

	for scanner.Scan() {
		line := scanner.Text()
		if inCopy {
			if line == `\.` {
				inCopy = false
				block := dumpStatement{sql: copySQL, copyData: copyData.String(), isCopy: true}
				copyData.Reset()
				if err := emit(block); err != nil {
					return err
				}
				continue
			}
			copyData.WriteString(line)
			copyData.WriteByte('\n')
			continue
		}
		stmt.WriteString(line)
		stmt.WriteByte('\n')
		if strings.HasSuffix(strings.TrimRight(line, " \t"), ";") {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading dump: %w", err)
	}
	return flush()
}

func stripLeadingComments(sql string) string {
	for {
		sql = strings.TrimLeft(sql, " \t\r\n")
		if !strings.HasPrefix(sql, "--") {
			return strings.TrimSpace(sql)
		}
		nl := strings.IndexByte(sql, '\n')
		if nl < 0 {
			return ""
		}
		sql = sql[nl+1:]
	}
}

func isCopyFromStdin(sql string) bool {
	if !strings.HasPrefix(sql, "COPY ") {
		return false
	}
	return strings.HasSuffix(strings.TrimSuffix(sql, ";"), "FROM stdin")
}

// loadStatements replays the dump one unit at a time. Individual failures
// are logged and skipped, but when more units fail than succeed the restore
// as a whole is treated as failed rather than reporting a hollow success.
func (im *Importer) loadStatements(ctx context.Context, dump io.Reader) (applied, failed int, err error) {
	err = scanDump(dump, func(st dumpStatement) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		var execErr error
		if st.isCopy {
			execErr = im.copyBlock(ctx, st)
		} else {
			_, execErr = im.pool.Exec(ctx, st.sql)
		}
		if execErr != nil {
			failed++
			log.Debug().Err(execErr).Str("statement", truncate(st.sql, 120)).Msg("statement failed, continuing")
			return nil
		}
		applied++
		return nil
	})
	if err != nil {
		return applied, failed, err
	}
	if failed > applied {
		return applied, failed, fmt.Errorf("statement loader: %d of %d statements failed", failed, applied+failed)
	}
	return applied, failed, nil
}

// copyBlock streams one COPY data block over the wire protocol. The pool's
// pgx layer cannot answer a CopyInResponse from Exec, so the block goes
// through the underlying pgconn directly.
func (im *Importer) copyBlock(ctx context.Context, st dumpStatement) error {
	conn, err := im.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	_, err = conn.Conn().PgConn().CopyFrom(ctx, strings.NewReader(st.copyData), strings.TrimSuffix(st.sql, ";"))
	return err
}

func (im *Importer) resetAdminPassword(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, im.opts.CommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "moosh", "-n", "user-mod", "-p", im.opts.AdminPassword, "admin")
	cmd.Dir = im.opts.MoodleDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("moosh user-mod: %w: %s", err, firstLine(out))
	}
	return nil
}

// accessControlFile is preserved across the data-directory wipe so a
// web-exposed moodledata keeps its deny rules.
const accessControlFile = ".htaccess"

func (im *Importer) copyDatafiles(ctx context.Context, outcome *PhaseOutcome) error {
	if im.opts.DryRun {
		outcome.Status = StatusSkippedDryRun
		outcome.Message = "would clear data directory and copy archive payload"
		return nil
	}

	src := filepath.Join(im.workdir, "moodledata")
	if _, err := os.Stat(src); err != nil {
		outcome.Status = StatusSkipped
		outcome.Message = "archive carries no data files"
		return nil
	}

	preserved, _ := os.ReadFile(filepath.Join(im.opts.DataDir, accessControlFile))

	im.irreversible = true
	if err := clearDir(ctx, im.opts.DataDir); err != nil {
		return fmt.Errorf("clearing data directory: %w", err)
	}
	im.step(PhaseDatafiles, "clear", "cleared %s", im.opts.DataDir)

	copied, err := copyTree(ctx, src, im.opts.DataDir)
	if err != nil {
		return fmt.Errorf("copying data files: %w", err)
	}
	im.step(PhaseDatafiles, "copy", "copied %d files", copied)

	if len(preserved) > 0 {
		if err := os.WriteFile(filepath.Join(im.opts.DataDir, accessControlFile), preserved, 0o640); err != nil {
			return fmt.Errorf("restoring %s: %w", accessControlFile, err)
		}
	}

	if err := normalizePermissions(im.opts.DataDir); err != nil {
		return fmt.Errorf("normalizing permissions: %w", err)
	}
	outcome.Details = append(outcome.Details, fmt.Sprintf("files copied: %d", copied))
	return nil
}

func (im *Importer) installPlugins(ctx context.Context, outcome *PhaseOutcome) error {
	if im.opts.SkipPlugins {
		outcome.Status = StatusSkipped
		outcome.Message = "plugin installation disabled"
		return nil
	}
	if im.opts.DryRun {
		outcome.Status = StatusSkippedDryRun
		outcome.Message = fmt.Sprintf("would reconcile %d declared plugins", len(im.plugins))
		return nil
	}

	installer := newPluginInstaller(im.opts.MoodleDir, im.opts.PluginDirectoryURL, im.opts.CommandTimeout)
	installed, failures := installer.reconcile(ctx, im.plugins, func(step, msg string) {
		im.step(PhasePlugins, step, "%s", msg)
	})
	outcome.Details = append(outcome.Details, fmt.Sprintf("plugins installed: %d", installed))
	for _, f := range failures {
		outcome.Details = append(outcome.Details, "failed: "+f)
	}
	if len(failures) > 0 {
		outcome.Message = fmt.Sprintf("%d of %d plugins failed to install", len(failures), len(im.plugins))
	}
	// per-plugin failures are reported but do not abort the import
	return nil
}

func (im *Importer) finalize(ctx context.Context, outcome *PhaseOutcome) error {
	if im.opts.DryRun {
		outcome.Status = StatusSkippedDryRun
		outcome.Message = "would regenerate config, run upgrade, purge caches, health-check"
		return nil
	}

	if err := im.writeConfigPHP(); err != nil {
		return fmt.Errorf("writing config.php: %w", err)
	}
	im.step(PhaseFinalize, "config", "regenerated config.php")

	for _, script := range []string{"admin/cli/upgrade.php --non-interactive", "admin/cli/purge_caches.php", "admin/cli/cron.php"} {
		if err := im.runPHP(ctx, script); err != nil {
			return err
		}
	}

	checks := im.healthCheck(ctx)
	healthy := true
	for _, c := range checks {
		outcome.Details = append(outcome.Details, c.String())
		if !c.OK {
			healthy = false
		}
	}
	if !healthy {
		// advisory only, the completed work stands
		outcome.Message = "health check reported failures, see details"
	}
	return nil
}

func (im *Importer) runPHP(ctx context.Context, script string) error {
	parts := strings.Fields(script)
	args := append([]string{parts[0]}, parts[1:]...)

	ctx, cancel := context.WithTimeout(ctx, im.opts.CommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "php", args...)
	cmd.Dir = im.opts.MoodleDir
	im.step(PhaseFinalize, "cli", "php %s", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("php %s: %w: %s", parts[0], err, firstLine(out))
	}
	return nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 200)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
