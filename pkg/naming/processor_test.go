package naming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func enabled(id, pattern string, priority int, nameTemplate string) Schema {
	return Schema{
		ID:                      id,
		Priority:                priority,
		Pattern:                 pattern,
		CourseNameTemplate:      nameTemplate,
		CourseShortnameTemplate: "{group_name|slug}",
		CourseIDNumberPrefix:    "kc-course:",
		Enabled:                 true,
	}
}

func TestProcessSubjectCommunity(t *testing.T) {
	p, err := NewProcessor(Config{
		Schemas: []Schema{
			enabled("fachschaft", `^p_alle_(?P<fach>[a-zA-Z]+)$`, 40, "Fachschaft {fach|map:subject_map}"),
		},
		SubjectMap: map[string]string{"bio": "Biologie"},
	})
	require.NoError(t, err)

	m, err := p.Process("p_alle_bio", "grp-1")
	require.NoError(t, err)
	require.Equal(t, "fachschaft", m.SchemaID)
	require.Equal(t, "Fachschaft Biologie", m.CourseFullname)
	require.Equal(t, "kc-course:p-alle-bio", m.CourseIDNumber)
	require.Equal(t, "bio", m.Groups["fach"])
}

func TestProcessSubjectClass(t *testing.T) {
	cfg := Config{
		Schemas: []Schema{
			{
				ID:                      "subject_class",
				Priority:                30,
				Pattern:                 `^p_(?P<lehrer>[a-z]+)_(?P<fach>[a-zA-Z]+)_(?P<stufe>\d+[a-z]?)$`,
				CourseNameTemplate:      "{fach|map:subject_map} Stufe {stufe} ({lehrer|upper})",
				CourseShortnameTemplate: "{fach|lower}-{stufe}",
				CourseIDNumberPrefix:    "kc-course:",
				CategoryPathTemplate:    "Fachkurse/Stufe {stufe|extract_grade}",
				Enabled:                 true,
			},
		},
		SubjectMap: map[string]string{"bio": "Biologie"},
	}
	p, err := NewProcessor(cfg)
	require.NoError(t, err)

	m, err := p.Process("p_mueller_bio_10a", "grp-2")
	require.NoError(t, err)
	require.Equal(t, "Biologie Stufe 10a (MUELLER)", m.CourseFullname)
	require.Equal(t, "Fachkurse/Stufe 10", m.CategoryPath)
	require.Equal(t, "kc-course:p-mueller-bio-10a", m.CourseIDNumber)
}

func TestProcessDeterministic(t *testing.T) {
	p, err := NewProcessor(DefaultConfig())
	require.NoError(t, err)

	first, err := p.Process("p_mueller_bio_10a", "grp-2")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := p.Process("p_mueller_bio_10a", "grp-2")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestProcessNoMatch(t *testing.T) {
	p, err := NewProcessor(DefaultConfig())
	require.NoError(t, err)

	m, err := p.Process("some-builtin-group", "grp-3")
	require.ErrorIs(t, err, ErrNoMatch)
	require.Nil(t, m)
}

func TestProcessSkipsDisabledSchemas(t *testing.T) {
	off := enabled("off", `^x_(?P<n>.+)$`, 50, "OFF {n}")
	off.Enabled = false
	p, err := NewProcessor(Config{Schemas: []Schema{
		off,
		enabled("on", `^x_(?P<n>.+)$`, 1, "ON {n}"),
	}})
	require.NoError(t, err)

	m, err := p.Process("x_42", "g")
	require.NoError(t, err)
	require.Equal(t, "on", m.SchemaID)
}

func TestPriorityWinsOverDeclarationOrder(t *testing.T) {
	low := enabled("low", `^p_(?P<rest>.+)$`, 10, "LOW")
	high := enabled("high", `^p_(?P<a>[a-z]+)_(?P<b>[a-z]+)$`, 30, "HIGH")

	// low declared first; high must still win on priority
	p, err := NewProcessor(Config{Schemas: []Schema{low, high}})
	require.NoError(t, err)
	m, err := p.Process("p_foo_bar", "g")
	require.NoError(t, err)
	require.Equal(t, "high", m.SchemaID)
}

func TestEqualPriorityTieBreaksOnDeclarationOrder(t *testing.T) {
	a := enabled("a", `^p_(?P<rest>.+)$`, 10, "A")
	b := enabled("b", `^p_(?P<rest>.+)$`, 10, "B")

	p, err := NewProcessor(Config{Schemas: []Schema{a, b}})
	require.NoError(t, err)
	m, err := p.Process("p_x", "g")
	require.NoError(t, err)
	require.Equal(t, "a", m.SchemaID)

	// swapping declaration order must flip the outcome
	p, err = NewProcessor(Config{Schemas: []Schema{b, a}})
	require.NoError(t, err)
	m, err = p.Process("p_x", "g")
	require.NoError(t, err)
	require.Equal(t, "b", m.SchemaID)
}

func TestInvalidPatternFailsConstruction(t *testing.T) {
	_, err := NewProcessor(Config{Schemas: []Schema{
		enabled("broken", `^p_(?P<unclosed>`, 10, "X"),
	}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}

func TestNormalizeIDNumber(t *testing.T) {
	tests := map[string]string{
		"p_alle_bio":        "p-alle-bio",
		"p_mueller_bio_10a": "p-mueller-bio-10a",
		"10a":               "10a",
		"Projekt Garten":    "projekt-garten",
		"a__b--c":           "a-b-c",
		"weird(chars)!":     "weirdchars",
	}
	for in, want := range tests {
		require.Equal(t, want, NormalizeIDNumber(in), in)
	}
}

func TestDefaultConfigCompilesAndRoutes(t *testing.T) {
	p, err := NewProcessor(DefaultConfig())
	require.NoError(t, err)

	tests := []struct {
		group    string
		schemaID string
		fullname string
	}{
		{"p_alle_bio", "subject_community", "Fachschaft Biologie"},
		{"p_mueller_bio_10a", "subject_class", "Biologie Stufe 10a (MUELLER)"},
		{"10a", "class", "Klasse 10A"},
		{"projekt_schulgarten", "project", "Projekt Schulgarten"},
		{"p_schmidt_schach_ag", "teacher_group", "Schach Ag (SCHMIDT)"},
	}
	for _, tt := range tests {
		m, err := p.Process(tt.group, "gid")
		require.NoError(t, err, tt.group)
		require.Equal(t, tt.schemaID, m.SchemaID, tt.group)
		require.Equal(t, tt.fullname, m.CourseFullname, tt.group)
	}
}

func TestOwnerVariableDefaultsToLehrer(t *testing.T) {
	p, err := NewProcessor(DefaultConfig())
	require.NoError(t, err)

	m, err := p.Process("p_mueller_bio_10a", "gid")
	require.NoError(t, err)
	require.Equal(t, "lehrer", m.OwnerVariable)
	require.Equal(t, "mueller", m.Groups[m.OwnerVariable])
}

func TestOwnerVariableOverride(t *testing.T) {
	s := enabled("project", `^projekt_(?P<leiter>[a-z0-9]+)_(?P<name>[a-z0-9]+)$`, 10, "Projekt {name|ucfirst}")
	s.OwnerVariable = "leiter"
	p, err := NewProcessor(Config{Schemas: []Schema{s}})
	require.NoError(t, err)

	m, err := p.Process("projekt_weber_schach", "gid")
	require.NoError(t, err)
	require.Equal(t, "leiter", m.OwnerVariable)
	require.Equal(t, "weber", m.Groups[m.OwnerVariable])
}
