package naming

// DefaultConfig returns the baseline schema set used when no persisted
// naming configuration exists. Several patterns overlap on purpose: a name
// like p_mueller_bio_10a matches both the subject-class and the generic
// teacher-led pattern, and the higher priority of the subject-class schema
// is what routes it there.
func DefaultConfig() Config {
	return Config{
		Schemas: []Schema{
			{
				ID:                      "subject_community",
				Description:             "site-wide subject community groups (p_alle_<fach>)",
				Priority:                40,
				Pattern:                 `^p_alle_(?P<fach>[a-zA-Z]+)$`,
				CourseNameTemplate:      "Fachschaft {fach|map:subject_map}",
				CourseShortnameTemplate: "fs-{fach|lower}",
				CourseIDNumberPrefix:    "kc-course:",
				CategoryPathTemplate:    "Fachschaften",
				RoleMap:                 map[string]string{"member": "editingteacher"},
				Enabled:                 true,
			},
			{
				ID:                      "subject_class",
				Description:             "teacher-taught subject course for one class (p_<lehrer>_<fach>_<stufe>)",
				Priority:                30,
				Pattern:                 `^p_(?P<lehrer>[a-z]+)_(?P<fach>[a-zA-Z]+)_(?P<stufe>\d+[a-z]?)$`,
				CourseNameTemplate:      "{fach|map:subject_map} Stufe {stufe} ({lehrer|upper})",
				CourseShortnameTemplate: "{fach|lower}-{stufe|lower}-{lehrer}",
				CourseIDNumberPrefix:    "kc-course:",
				CategoryPathTemplate:    "Fachkurse/Stufe {stufe|extract_grade}",
				RoleMap:                 map[string]string{"member": "student", "owner": "editingteacher"},
				Enabled:                 true,
			},
			{
				ID:                      "project",
				Description:             "ad-hoc project groups (projekt_<name>)",
				Priority:                25,
				Pattern:                 `^projekt_(?P<name>[a-z0-9_]+)$`,
				CourseNameTemplate:      "Projekt {name|replace:_: |titlecase}",
				CourseShortnameTemplate: "projekt-{name|slug}",
				CourseIDNumberPrefix:    "kc-course:",
				CategoryPathTemplate:    "Projekte",
				RoleMap:                 map[string]string{"member": "student", "owner": "teacher"},
				Enabled:                 true,
			},
			{
				ID:                      "class",
				Description:             "class-wide courses for a whole class (10a, 7b, ...)",
				Priority:                20,
				Pattern:                 `^(?P<stufe>\d+[a-z])$`,
				CourseNameTemplate:      "Klasse {stufe|upper}",
				CourseShortnameTemplate: "klasse-{stufe|lower}",
				CourseIDNumberPrefix:    "kc-course:",
				CategoryPathTemplate:    "Klassen/Stufe {stufe|extract_grade}",
				RoleMap:                 map[string]string{"member": "student"},
				Enabled:                 true,
			},
			{
				ID:                      "teacher_group",
				Description:             "generic teacher-led groups (p_<lehrer>_<name>)",
				Priority:                10,
				Pattern:                 `^p_(?P<lehrer>[a-z]+)_(?P<name>[a-z0-9_]+)$`,
				CourseNameTemplate:      "{name|replace:_: |titlecase} ({lehrer|upper})",
				CourseShortnameTemplate: "{lehrer}-{name|slug}",
				CourseIDNumberPrefix:    "kc-course:",
				CategoryPathTemplate:    "Kurse",
				RoleMap:                 map[string]string{"member": "student", "owner": "editingteacher"},
				Enabled:                 true,
			},
		},
		SubjectMap: map[string]string{
			"bio": "Biologie",
			"che": "Chemie",
			"deu": "Deutsch",
			"eng": "Englisch",
			"eth": "Ethik",
			"fra": "Französisch",
			"geo": "Geographie",
			"ges": "Geschichte",
			"inf": "Informatik",
			"kun": "Kunst",
			"lat": "Latein",
			"mat": "Mathematik",
			"mus": "Musik",
			"phy": "Physik",
			"pol": "Politik",
			"rel": "Religion",
			"spa": "Spanisch",
			"spo": "Sport",
		},
	}
}
