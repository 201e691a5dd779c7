// Package sync orchestrates one synchronization run from the identity
// directory into moodle: users, then courses, then enrolments. Each phase
// is idempotent against the state earlier runs left behind; the course
// idnumber computed by the naming processor is the association key.
package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/edulution/moodle-connector/pkg/cache"
	"github.com/edulution/moodle-connector/pkg/classify"
	"github.com/edulution/moodle-connector/pkg/keycloak"
	"github.com/edulution/moodle-connector/pkg/moodle"
	"github.com/edulution/moodle-connector/pkg/naming"
)

// Manager runs the sync. Construct with NewManager; a Manager is configured
// once and used for a single Run.
type Manager struct {
	dir        keycloak.Directory
	reader     moodle.Reader
	writer     moodle.Writer
	classifier *classify.Classifier
	processor  *naming.Processor
	detector   *cache.Detector

	mode     Mode
	dryRun   bool
	pageSize int
}

// Config holds the run-scoped settings.
type Config struct {
	Mode     Mode
	DryRun   bool
	PageSize int
	// Detector enables hash-based skip of unchanged users; nil disables it.
	Detector *cache.Detector
}

// NewManager wires a Manager. In dry-run mode callers pass a dry-run Writer;
// the Manager itself never branches on DryRun except for cache commits.
func NewManager(dir keycloak.Directory, reader moodle.Reader, writer moodle.Writer, processor *naming.Processor, cfg Config) *Manager {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Manager{
		dir:        dir,
		reader:     reader,
		writer:     writer,
		classifier: classify.NewClassifier(),
		processor:  processor,
		detector:   cfg.Detector,
		mode:       cfg.Mode,
		dryRun:     cfg.DryRun,
		pageSize:   pageSize,
	}
}

// candidate is a directory group that survived triage and will be synced.
type candidate struct {
	group keycloak.Group
	class classify.Classification
	match *naming.Match
}

// Run executes the configured phases and returns the report. A returned
// error means an infrastructure failure before or between phases; per-item
// failures are recorded in the report instead.
func (m *Manager) Run(ctx context.Context) (*Report, error) {
	report := NewReport(m.mode, m.dryRun)
	if m.dryRun {
		report.Logf("dry run: no changes will be made")
		log.Info().Msg("dry run mode, no changes will be made")
	}

	status := m.dir.TestConnection(ctx)
	if !status.Success {
		return nil, fmt.Errorf("directory service unreachable: %s", status.Message)
	}

	groups, err := m.dir.GetAllGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading groups: %w", err)
	}

	candidates := m.triage(groups, report)
	log.Info().
		Int("groups", len(groups)).
		Int("candidates", len(candidates)).
		Int("ignored", report.IgnoredGroups).
		Int("unknown", len(report.UnknownGroups)).
		Msg("triaged directory groups")

	if m.mode == ModeFull || m.mode == ModeUsers {
		if err := m.syncUsers(ctx, candidates, report); err != nil {
			return nil, err
		}
	}
	if m.mode == ModeFull || m.mode == ModeCourses {
		if err := m.syncCourses(ctx, candidates, report); err != nil {
			return nil, err
		}
	}
	if m.mode == ModeFull || m.mode == ModeEnrolments {
		if err := m.syncEnrolments(ctx, candidates, report); err != nil {
			return nil, err
		}
	}

	if m.detector != nil && !m.dryRun {
		if err := m.detector.Commit(); err != nil {
			log.Warn().Err(err).Msg("could not persist change-detection cache")
		}
	}

	report.finish()
	return report, nil
}

// triage classifies every group and resolves naming for the syncable ones.
// Unknown and unmatched groups are reported, never dropped silently.
func (m *Manager) triage(groups []keycloak.Group, report *Report) []candidate {
	var candidates []candidate
	for _, g := range groups {
		cl := m.classifier.Classify(g.Name)
		switch cl.Type {
		case classify.TypeIgnore:
			report.ignoredGroup()
			continue
		case classify.TypeUnknown:
			report.unknownGroup(g.Name)
			continue
		}

		match, err := m.processor.Process(g.Name, g.ID)
		if err != nil {
			// classified as syncable but no naming schema fits; treat as
			// unknown so the operator sees it
			report.unknownGroup(g.Name)
			continue
		}
		log.Debug().
			Str("group", g.Name).
			Stringer("type", cl.Type).
			Str("schema", match.SchemaID).
			Msg("group accepted for sync")
		candidates = append(candidates, candidate{group: g, class: cl, match: match})
	}
	return candidates
}

func (m *Manager) syncUsers(ctx context.Context, candidates []candidate, report *Report) error {
	phase := report.enter(PhaseUsers)

	users, err := m.collectMembers(ctx, candidates, report, phase)
	if err != nil {
		return err
	}

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		existing, err := m.reader.UserByUsername(ctx, u.Username)
		if err != nil {
			report.itemError(phase, u.Username, err)
			continue
		}
		if !u.Enabled {
			if existing == nil || existing.Suspended {
				report.ignored(phase)
				continue
			}
			if err := m.writer.SuspendUser(ctx, u.Username); err != nil {
				report.itemError(phase, u.Username, err)
				continue
			}
			report.updated(phase)
			continue
		}
		if existing == nil {
			err := m.writer.CreateUser(ctx, moodle.User{
				Username:  u.Username,
				Email:     u.Email,
				FirstName: u.FirstName,
				LastName:  u.LastName,
				IDNumber:  "kc-user:" + u.ID,
			})
			if err != nil {
				report.itemError(phase, u.Username, err)
				continue
			}
			if m.detector != nil {
				m.detector.HasChanged("user", u.Username, u)
			}
			report.created(phase)
			continue
		}
		if m.detector != nil && !m.detector.HasChanged("user", u.Username, u) {
			report.ignored(phase)
			continue
		}
		err = m.writer.UpdateUser(ctx, moodle.User{
			Username:  u.Username,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		})
		if err != nil {
			report.itemError(phase, u.Username, err)
			continue
		}
		report.updated(phase)
	}
	return nil
}

func (m *Manager) syncCourses(ctx context.Context, candidates []candidate, report *Report) error {
	phase := report.enter(PhaseCourses)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		existing, err := m.reader.CourseByIDNumber(ctx, c.match.CourseIDNumber)
		if err != nil {
			report.itemError(phase, c.group.Name, err)
			continue
		}
		if existing != nil {
			report.ignored(phase)
			continue
		}
		err = m.writer.CreateCourse(ctx, moodle.Course{
			Fullname:     c.match.CourseFullname,
			Shortname:    c.match.CourseShortname,
			IDNumber:     c.match.CourseIDNumber,
			CategoryPath: c.match.CategoryPath,
		})
		if err != nil {
			report.itemError(phase, c.group.Name, err)
			continue
		}
		report.created(phase)
		report.Logf("courses: created %q (%s)", c.match.CourseFullname, c.match.CourseIDNumber)
	}
	return nil
}

func (m *Manager) syncEnrolments(ctx context.Context, candidates []candidate, report *Report) error {
	phase := report.enter(PhaseEnrolments)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		members, err := m.groupMembers(ctx, c.group.ID)
		if err != nil {
			report.itemError(phase, c.group.Name, err)
			continue
		}
		for _, member := range members {
			if !member.Enabled {
				report.ignored(phase)
				continue
			}
			role := m.roleFor(c, member)
			err := m.writer.Enrol(ctx, moodle.Enrolment{
				CourseIDNumber: c.match.CourseIDNumber,
				Username:       member.Username,
				Role:           role,
			})
			if err != nil {
				report.itemError(phase, c.group.Name+"/"+member.Username, err)
				continue
			}
			report.created(phase)
		}
	}
	return nil
}

// roleFor picks the moodle role for one member from the schema's role map.
// A member whose username equals the value captured by the schema's owner
// variable (the lehrer segment by default) gets the owner role.
func (m *Manager) roleFor(c candidate, member keycloak.User) string {
	roleMap := c.match.RoleMap
	role := roleMap["member"]
	if role == "" {
		role = "student"
	}
	if owner := roleMap["owner"]; owner != "" && member.Username == c.match.Groups[c.match.OwnerVariable] {
		role = owner
	}
	return role
}

// collectMembers gathers the deduplicated union of all candidate groups'
// members, sorted by username for deterministic processing order.
func (m *Manager) collectMembers(ctx context.Context, candidates []candidate, report *Report, phase *PhaseResult) ([]keycloak.User, error) {
	seen := make(map[string]keycloak.User)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members, err := m.groupMembers(ctx, c.group.ID)
		if err != nil {
			report.itemError(phase, c.group.Name, err)
			continue
		}
		for _, u := range members {
			if u.Username == "" {
				continue
			}
			seen[u.Username] = u
		}
	}

	users := make([]keycloak.User, 0, len(seen))
	for _, u := range seen {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (m *Manager) groupMembers(ctx context.Context, groupID string) ([]keycloak.User, error) {
	var all []keycloak.User
	for offset := 0; ; offset += m.pageSize {
		page, err := m.dir.GetGroupMembers(ctx, groupID, offset, m.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < m.pageSize {
			return all, nil
		}
	}
}
