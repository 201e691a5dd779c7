package transform

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tables are named lookup tables available to the `map:` transform, e.g.
// subject_map maps short subject codes to display names.
type Tables map[string]map[string]string

// Func is a single named transform in a rendering pipeline. It receives the
// current value, the colon-delimited arguments from the template and the
// lookup tables, and returns the transformed value. Transforms never fail;
// unusable input passes through unchanged.
type Func func(value string, args []string, tables Tables) string

// registry is the fixed dispatch table of known transforms. Adding a
// transform means adding an entry here.
var registry = map[string]Func{
	"upper":         func(v string, _ []string, _ Tables) string { return strings.ToUpper(v) },
	"lower":         func(v string, _ []string, _ Tables) string { return strings.ToLower(v) },
	"ucfirst":       ucfirst,
	"titlecase":     titlecase,
	"replace":       replace,
	"truncate":      truncate,
	"pad":           pad,
	"extract_grade": extractGrade,
	"map":           lookup,
	"default":       defaultValue,
	"clean":         clean,
	"slug":          slug,
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Render substitutes `{name|t1|t2:arg}` placeholders in template with values
// from vars, applying transforms left to right. Unknown variables render as
// the empty string: not every schema pattern populates every variable a
// template references.
func Render(template string, vars map[string]string, tables Tables) string {
	return placeholder.ReplaceAllStringFunc(template, func(ph string) string {
		parts := strings.Split(ph[1:len(ph)-1], "|")
		value := vars[strings.TrimSpace(parts[0])]
		for _, spec := range parts[1:] {
			segs := strings.Split(spec, ":")
			fn, ok := registry[strings.TrimSpace(segs[0])]
			if !ok {
				continue
			}
			value = fn(value, segs[1:], tables)
		}
		return value
	})
}

func ucfirst(v string, _ []string, _ Tables) string {
	r := []rune(v)
	if len(r) == 0 {
		return v
	}
	return string(unicode.ToUpper(r[0])) + string(r[1:])
}

func titlecase(v string, _ []string, _ Tables) string {
	prevSpace := true
	out := make([]rune, 0, len(v))
	for _, r := range v {
		if prevSpace {
			r = unicode.ToUpper(r)
		}
		prevSpace = unicode.IsSpace(r)
		out = append(out, r)
	}
	return string(out)
}

func replace(v string, args []string, _ Tables) string {
	if len(args) < 2 {
		return v
	}
	return strings.ReplaceAll(v, args[0], args[1])
}

func truncate(v string, args []string, _ Tables) string {
	n, ok := intArg(args)
	if !ok {
		return v
	}
	r := []rune(v)
	if len(r) <= n {
		return v
	}
	return string(r[:n])
}

func pad(v string, args []string, _ Tables) string {
	n, ok := intArg(args)
	if !ok {
		return v
	}
	for len([]rune(v)) < n {
		v = "0" + v
	}
	return v
}

var leadingDigits = regexp.MustCompile(`^\d+`)

// extractGrade pulls the leading digit run out of a class token like "10a".
// Tokens without leading digits (cross-grade groups like "ag") pass through.
func extractGrade(v string, _ []string, _ Tables) string {
	if m := leadingDigits.FindString(v); m != "" {
		return m
	}
	return v
}

func lookup(v string, args []string, tables Tables) string {
	if len(args) == 0 {
		return v
	}
	if mapped, ok := tables[args[0]][v]; ok {
		return mapped
	}
	// unmapped codes degrade to the raw code instead of dropping the record
	return v
}

func defaultValue(v string, args []string, _ Tables) string {
	if v == "" && len(args) > 0 {
		return args[0]
	}
	return v
}

func clean(v string, _ []string, _ Tables) string {
	var b strings.Builder
	for _, r := range foldDiacritics(v) {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == ' ', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func slug(v string, _ []string, _ Tables) string {
	v = strings.ToLower(foldDiacritics(v))
	v = whitespaceRun.ReplaceAllString(v, "-")
	var b strings.Builder
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldDiacritics decomposes accented characters and drops the combining
// marks, so "Müller" cleans to "Muller" rather than losing the letter.
func foldDiacritics(v string) string {
	decomposed := norm.NFD.String(v)
	out := make([]rune, 0, len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		out = append(out, r)
	}
	return norm.NFC.String(string(out))
}

func intArg(args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range args[0] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
