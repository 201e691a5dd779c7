package migrate

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// pluginTypeDirs maps a component's type prefix to its installation
// directory relative to the moodle root. This is data, not logic: moodle
// hardcodes the same table in its component loader.
var pluginTypeDirs = map[string]string{
	"antivirus":          "lib/antivirus",
	"assignfeedback":     "mod/assign/feedback",
	"assignsubmission":   "mod/assign/submission",
	"atto":               "lib/editor/atto/plugins",
	"auth":               "auth",
	"availability":       "availability/condition",
	"block":              "blocks",
	"booktool":           "mod/book/tool",
	"cachelock":          "cache/locks",
	"cachestore":         "cache/stores",
	"calendartype":       "calendar/type",
	"communication":      "communication/provider",
	"contenttype":        "contentbank/contenttype",
	"coursereport":       "course/report",
	"customfield":        "customfield/field",
	"datafield":          "mod/data/field",
	"dataformat":         "dataformat",
	"datapreset":         "mod/data/preset",
	"editor":             "lib/editor",
	"enrol":              "enrol",
	"fileconverter":      "files/converter",
	"filter":             "filter",
	"forumreport":        "mod/forum/report",
	"format":             "course/format",
	"gradeexport":        "grade/export",
	"gradeimport":        "grade/import",
	"gradereport":        "grade/report",
	"gradingform":        "grade/grading/form",
	"h5plib":             "h5p/h5plib",
	"local":              "local",
	"logstore":           "admin/tool/log/store",
	"ltiservice":         "mod/lti/service",
	"ltisource":          "mod/lti/source",
	"media":              "media/player",
	"message":            "message/output",
	"mlbackend":          "lib/mlbackend",
	"mnetservice":        "mnet/service",
	"mod":                "mod",
	"paygw":              "payment/gateway",
	"plagiarism":         "plagiarism",
	"portfolio":          "portfolio",
	"profilefield":       "user/profile/field",
	"qbank":              "question/bank",
	"qbehaviour":         "question/behaviour",
	"qformat":            "question/format",
	"qtype":              "question/type",
	"quiz":               "mod/quiz/report",
	"quizaccess":         "mod/quiz/accessrule",
	"report":             "report",
	"repository":         "repository",
	"scormreport":        "mod/scorm/report",
	"search":             "search/engine",
	"smsgateway":         "sms/gateway",
	"theme":              "theme",
	"tiny":               "lib/editor/tiny/plugins",
	"tool":               "admin/tool",
	"webservice":         "webservice",
	"workshopallocation": "mod/workshop/allocation",
	"workshopeval":       "mod/workshop/eval",
	"workshopform":       "mod/workshop/form",
}

// SplitComponent splits "mod_attendance" into type "mod" and name
// "attendance". Component types never contain underscores, names may, so
// the first underscore is the separator.
func SplitComponent(component string) (typ, name string, ok bool) {
	i := strings.Index(component, "_")
	if i <= 0 || i == len(component)-1 {
		return "", "", false
	}
	return component[:i], component[i+1:], true
}

// InstallDir resolves the directory (relative to the moodle root) a
// component's code belongs in. Unknown types report ok=false rather than
// guessing a location.
func InstallDir(component string) (dir string, ok bool) {
	typ, name, ok := SplitComponent(component)
	if !ok {
		return "", false
	}
	base, ok := pluginTypeDirs[typ]
	if !ok {
		return "", false
	}
	return filepath.Join(base, name), true
}

var versionRe = regexp.MustCompile(`\$(?:plugin|module)->version\s*=\s*(\d+)`)

// pluginVersion extracts the numeric version from a version.php file.
// Returns "" when the file is absent or carries no recognizable version.
func pluginVersion(versionFile string) string {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return ""
	}
	if m := versionRe.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	return ""
}

// InstalledVersion reports the version of a component already present
// under the moodle root, or "" when it is not installed.
func InstalledVersion(moodleDir, component string) string {
	dir, ok := InstallDir(component)
	if !ok {
		return ""
	}
	return pluginVersion(filepath.Join(moodleDir, dir, "version.php"))
}
