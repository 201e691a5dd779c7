package classify

import "regexp"

// Type buckets a raw group name for sync routing. This is deliberately
// coarser than the naming schemas: it decides whether a group is synced at
// all and which role mapping applies, not what the course will be called.
type Type int

const (
	// TypeUnknown is the fallback terminal bucket: not recognized, needs
	// operator attention. Distinct from TypeIgnore.
	TypeUnknown Type = iota
	// TypeClass covers class and subject-class groups that become courses.
	TypeClass
	// TypeTeacher covers teacher community groups.
	TypeTeacher
	// TypeProject covers ad-hoc project groups.
	TypeProject
	// TypeIgnore marks groups that are known and intentionally excluded,
	// e.g. built-in system groups.
	TypeIgnore
)

func (t Type) String() string {
	switch t {
	case TypeClass:
		return "class"
	case TypeTeacher:
		return "teacher"
	case TypeProject:
		return "project"
	case TypeIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Classification is the result for a single group name.
type Classification struct {
	Type           Type
	MatchedPattern string
	SourceName     string
}

type rule struct {
	pattern *regexp.Regexp
	typ     Type
}

// Classifier partitions group names into exactly one Type each.
type Classifier struct {
	rules []rule
}

// NewClassifier builds a classifier from the default pattern table.
func NewClassifier() *Classifier {
	return &Classifier{rules: defaultRules()}
}

// defaultRules is ordered: the first matching pattern decides. Ignore rules
// come first so built-in groups never leak into other buckets.
func defaultRules() []rule {
	mk := func(pattern string, t Type) rule {
		return rule{pattern: regexp.MustCompile(pattern), typ: t}
	}
	return []rule{
		// built-in keycloak / edulution system groups
		mk(`^(admins|administrators|default-roles-.*|offline_access|uma_authorization)$`, TypeIgnore),
		mk(`^(role|app|device)-.*$`, TypeIgnore),
		// teacher communities
		mk(`^(teachers|lehrer)$`, TypeTeacher),
		mk(`^p_alle_[a-zA-Z]+$`, TypeTeacher),
		// subject-class and class-wide groups
		mk(`^p_[a-z]+_[a-zA-Z]+_\d+[a-z]?$`, TypeClass),
		mk(`^\d+[a-z]$`, TypeClass),
		// ad-hoc projects, including generic teacher-led groups
		mk(`^projekt_[a-z0-9_]+$`, TypeProject),
		mk(`^p_[a-z]+_[a-z0-9_]+$`, TypeProject),
	}
}

// Classify buckets one group name. Every name lands in exactly one bucket;
// TypeUnknown is returned when nothing matches.
func (c *Classifier) Classify(name string) Classification {
	for _, r := range c.rules {
		if r.pattern.MatchString(name) {
			return Classification{Type: r.typ, MatchedPattern: r.pattern.String(), SourceName: name}
		}
	}
	return Classification{Type: TypeUnknown, SourceName: name}
}

// Summary aggregates a TestPatterns run: per-type counts plus the names
// that fell through to TypeUnknown.
type Summary struct {
	Counts  map[Type]int
	Unknown []string
}

// Total is the sum over all buckets, which always equals the input length.
func (s Summary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// TestPatterns classifies a list of names and reports the distribution.
// Used operationally to vet the pattern table against a live group list
// before enabling sync.
func (c *Classifier) TestPatterns(names []string) Summary {
	s := Summary{Counts: make(map[Type]int)}
	for _, name := range names {
		cl := c.Classify(name)
		s.Counts[cl.Type]++
		if cl.Type == TypeUnknown {
			s.Unknown = append(s.Unknown, name)
		}
	}
	return s
}
