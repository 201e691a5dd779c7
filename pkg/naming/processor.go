package naming

import (
	"errors"
	"sort"
	"strings"

	"github.com/edulution/moodle-connector/pkg/transform"
)

// ErrNoMatch is returned by Process when no enabled schema matches a group
// name. Unrecognized naming conventions are expected in the steady state;
// callers log or count this, they don't treat it as fatal.
var ErrNoMatch = errors.New("no naming schema matched")

// Processor evaluates an ordered schema list against group names. Schemas
// are tried by priority descending; among equal priorities declaration order
// decides. The first matching schema wins and no further schemas are
// evaluated, so overlapping patterns are disambiguated by priority alone.
type Processor struct {
	schemas []Schema
	tables  transform.Tables
}

// NewProcessor compiles all patterns eagerly. An invalid pattern is a
// configuration error and fails construction before any group is processed.
func NewProcessor(cfg Config) (*Processor, error) {
	schemas := make([]Schema, len(cfg.Schemas))
	copy(schemas, cfg.Schemas)
	for i := range schemas {
		if err := schemas[i].compile(); err != nil {
			return nil, err
		}
	}
	// stable keeps declaration order as the tie-break between equal priorities
	sort.SliceStable(schemas, func(i, j int) bool {
		return schemas[i].Priority > schemas[j].Priority
	})
	return &Processor{
		schemas: schemas,
		tables:  transform.Tables{"subject_map": cfg.SubjectMap},
	}, nil
}

// Process resolves a group name to a course identity via the first matching
// schema. groupID is exposed to templates as {group_id}.
func (p *Processor) Process(groupName, groupID string) (*Match, error) {
	for i := range p.schemas {
		s := &p.schemas[i]
		if !s.Enabled {
			continue
		}
		sub := s.re.FindStringSubmatch(groupName)
		if sub == nil {
			continue
		}

		vars := map[string]string{
			"group_name": groupName,
			"group_id":   groupID,
		}
		for gi, name := range s.re.SubexpNames() {
			if name != "" && gi < len(sub) {
				vars[name] = sub[gi]
			}
		}

		groups := make(map[string]string, len(vars))
		for k, v := range vars {
			groups[k] = v
		}

		return &Match{
			SchemaID:        s.ID,
			Groups:          groups,
			OwnerVariable:   s.OwnerVariable,
			CourseFullname:  transform.Render(s.CourseNameTemplate, vars, p.tables),
			CourseShortname: transform.Render(s.CourseShortnameTemplate, vars, p.tables),
			CourseIDNumber:  s.CourseIDNumberPrefix + NormalizeIDNumber(groupName),
			CategoryPath:    transform.Render(s.CategoryPathTemplate, vars, p.tables),
			RoleMap:         s.RoleMap,
		}, nil
	}
	return nil, ErrNoMatch
}

// NormalizeIDNumber folds a raw group name into the stable key used as the
// course idnumber suffix: lowercase, separator runs become single hyphens,
// everything else non-alphanumeric is dropped. The sync manager relies on
// this being a pure function of the group name for idempotent re-runs.
func NormalizeIDNumber(groupName string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(groupName) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if hyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			hyphen = false
			b.WriteRune(r)
		case r == '_' || r == '-' || r == ' ' || r == '.' || r == '/':
			hyphen = true
		}
	}
	return b.String()
}
