package naming

import (
	"fmt"
	"regexp"
)

// Schema describes how one family of external group names maps to a course
// identity. Pattern is a regex with named capture groups; the captured
// values feed the template fields.
type Schema struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	Pattern     string `json:"pattern"`

	CourseNameTemplate      string `json:"course_name_template"`
	CourseShortnameTemplate string `json:"course_shortname_template"`
	CourseIDNumberPrefix    string `json:"course_idnumber_prefix"`
	CategoryPathTemplate    string `json:"category_path_template,omitempty"`

	// RoleMap maps role keys (e.g. "member", "owner") to moodle role
	// shortnames for enrolments created through this schema.
	RoleMap map[string]string `json:"role_map,omitempty"`

	// OwnerVariable names the capture group whose value identifies the
	// group's owner for role assignment. Empty means "lehrer".
	OwnerVariable string `json:"owner_variable,omitempty"`

	Enabled bool `json:"enabled"`

	re *regexp.Regexp
}

func (s *Schema) compile() error {
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return fmt.Errorf("schema %q: invalid pattern %q: %w", s.ID, s.Pattern, err)
	}
	s.re = re
	if s.OwnerVariable == "" {
		s.OwnerVariable = "lehrer"
	}
	return nil
}

// Config is the persisted naming configuration: an ordered schema list plus
// the lookup tables referenced by `map:` transforms.
type Config struct {
	Schemas    []Schema          `json:"schemas"`
	SubjectMap map[string]string `json:"subject_map,omitempty"`
}

// Match is the fully resolved course identity for one group name. It is
// never partially populated: Process either returns a complete Match or
// ErrNoMatch.
type Match struct {
	SchemaID      string
	Groups        map[string]string
	OwnerVariable string

	CourseFullname  string
	CourseShortname string
	CourseIDNumber  string
	CategoryPath    string
	RoleMap         map[string]string
}
