package moodle

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewDryRunWriter constructs a Writer that logs every change it would make
// and writes nothing.
func NewDryRunWriter() Writer {
	return LoggingWriter{writer: DiscardingWriter{}, level: zerolog.InfoLevel, dryRun: true}
}

// NewLoggingWriter wraps a Writer so that every applied change is logged at
// debug level before delegating.
func NewLoggingWriter(w Writer) Writer {
	return LoggingWriter{writer: w, level: zerolog.DebugLevel}
}

// LoggingWriter logs each operation before delegating to an underlying
// Writer.
type LoggingWriter struct {
	writer Writer
	level  zerolog.Level
	dryRun bool
}

func (w LoggingWriter) event(op string) *zerolog.Event {
	return log.WithLevel(w.level).Str("op", op).Bool("dry_run", w.dryRun)
}

func (w LoggingWriter) CreateUser(ctx context.Context, u User) error {
	w.event("create_user").Str("username", u.Username).Str("email", u.Email).Send()
	return w.writer.CreateUser(ctx, u)
}

func (w LoggingWriter) UpdateUser(ctx context.Context, u User) error {
	w.event("update_user").Str("username", u.Username).Send()
	return w.writer.UpdateUser(ctx, u)
}

func (w LoggingWriter) SuspendUser(ctx context.Context, username string) error {
	w.event("suspend_user").Str("username", username).Send()
	return w.writer.SuspendUser(ctx, username)
}

func (w LoggingWriter) CreateCourse(ctx context.Context, c Course) error {
	w.event("create_course").
		Str("shortname", c.Shortname).
		Str("idnumber", c.IDNumber).
		Str("category", c.CategoryPath).
		Send()
	return w.writer.CreateCourse(ctx, c)
}

func (w LoggingWriter) Enrol(ctx context.Context, e Enrolment) error {
	w.event("enrol").
		Str("course", e.CourseIDNumber).
		Str("username", e.Username).
		Str("role", e.Role).
		Send()
	return w.writer.Enrol(ctx, e)
}

// DiscardingWriter does nothing but satisfy Writer.
type DiscardingWriter struct{}

func (DiscardingWriter) CreateUser(context.Context, User) error     { return nil }
func (DiscardingWriter) UpdateUser(context.Context, User) error     { return nil }
func (DiscardingWriter) SuspendUser(context.Context, string) error  { return nil }
func (DiscardingWriter) CreateCourse(context.Context, Course) error { return nil }
func (DiscardingWriter) Enrol(context.Context, Enrolment) error     { return nil }
