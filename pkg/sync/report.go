package sync

import (
	"fmt"
	"sync"
	"time"
)

// Mode selects which phases of a run execute. Phases excluded by the mode
// still appear in the report, marked skipped.
type Mode int

const (
	ModeFull Mode = iota
	ModeUsers
	ModeCourses
	ModeEnrolments
)

func (m Mode) String() string {
	switch m {
	case ModeUsers:
		return "users"
	case ModeCourses:
		return "courses"
	case ModeEnrolments:
		return "enrolments"
	default:
		return "full"
	}
}

// ParseMode parses a CLI mode flag value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "full":
		return ModeFull, nil
	case "users":
		return ModeUsers, nil
	case "courses":
		return ModeCourses, nil
	case "enrolments", "enrollments":
		return ModeEnrolments, nil
	}
	return ModeFull, fmt.Errorf("unknown sync mode %q", s)
}

// Phase names, stable across report consumers.
const (
	PhaseUsers      = "users"
	PhaseCourses    = "courses"
	PhaseEnrolments = "enrolments"
)

// PhaseResult accumulates counters for one phase.
type PhaseResult struct {
	Name    string `json:"name"`
	Skipped bool   `json:"skipped"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Ignored int    `json:"skipped_items"`
	Errors  int    `json:"errors"`
}

// Report is the structured result of one sync run. It is append-only while
// the run progresses and safe for concurrent counter updates.
type Report struct {
	mu sync.Mutex

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Mode       string    `json:"mode"`
	DryRun     bool      `json:"dry_run"`

	Phases []*PhaseResult `json:"phases"`

	// UnknownGroups lists source groups no classifier pattern or naming
	// schema recognized. They are skipped, never silently dropped.
	UnknownGroups []string `json:"unknown_groups,omitempty"`
	IgnoredGroups int      `json:"ignored_groups"`

	Lines []string `json:"log,omitempty"`
}

// NewReport returns a Report with all three phases pre-declared as skipped;
// phases flip to executed when the manager enters them.
func NewReport(mode Mode, dryRun bool) *Report {
	return &Report{
		StartedAt: time.Now(),
		Mode:      mode.String(),
		DryRun:    dryRun,
		Phases: []*PhaseResult{
			{Name: PhaseUsers, Skipped: true},
			{Name: PhaseCourses, Skipped: true},
			{Name: PhaseEnrolments, Skipped: true},
		},
	}
}

// Phase returns the named phase result.
func (r *Report) Phase(name string) *PhaseResult {
	for _, p := range r.Phases {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (r *Report) enter(name string) *PhaseResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.Phase(name)
	p.Skipped = false
	return p
}

func (r *Report) created(p *PhaseResult) {
	r.mu.Lock()
	p.Created++
	r.mu.Unlock()
}

func (r *Report) updated(p *PhaseResult) {
	r.mu.Lock()
	p.Updated++
	r.mu.Unlock()
}

func (r *Report) ignored(p *PhaseResult) {
	r.mu.Lock()
	p.Ignored++
	r.mu.Unlock()
}

// itemError records a per-item failure: counted, logged with enough context
// to identify the item, and the run continues.
func (r *Report) itemError(p *PhaseResult, item string, err error) {
	r.mu.Lock()
	p.Errors++
	r.Lines = append(r.Lines, fmt.Sprintf("%s: %s: %v", p.Name, item, err))
	r.mu.Unlock()
}

// Logf appends one free-text report line.
func (r *Report) Logf(format string, args ...interface{}) {
	r.mu.Lock()
	r.Lines = append(r.Lines, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *Report) unknownGroup(name string) {
	r.mu.Lock()
	r.UnknownGroups = append(r.UnknownGroups, name)
	r.mu.Unlock()
}

func (r *Report) ignoredGroup() {
	r.mu.Lock()
	r.IgnoredGroups++
	r.mu.Unlock()
}

func (r *Report) finish() {
	r.mu.Lock()
	r.FinishedAt = time.Now()
	r.mu.Unlock()
}

// ErrorCount sums errors over all phases.
func (r *Report) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.Phases {
		n += p.Errors
	}
	return n
}

// Success is true iff no per-item error occurred. Infrastructure failures
// never produce a Report at all; they abort the run with an error. This is
// the single success policy: any recorded error makes the run unsuccessful
// and the CLI exits non-zero.
func (r *Report) Success() bool {
	return r.ErrorCount() == 0
}
