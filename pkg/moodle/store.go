// Package moodle reads and writes the connector-managed slice of a moodle
// database: users, courses, categories and enrolments under the site's
// table prefix.
package moodle

import "context"

// Course is the connector's view of a course row. IDNumber is the natural
// external key: it is derived deterministically from the source group name
// and used to find courses created by earlier runs.
type Course struct {
	ID           int64
	Fullname     string
	Shortname    string
	IDNumber     string
	CategoryPath string
}

// User is the connector's view of a user row.
type User struct {
	ID        int64
	Username  string
	Email     string
	FirstName string
	LastName  string
	IDNumber  string
	Suspended bool
}

// Enrolment links a user to a course in a given role.
type Enrolment struct {
	CourseIDNumber string
	Username       string
	Role           string
}

// Reader answers idempotency lookups. A nil record with a nil error means
// "not found".
type Reader interface {
	CourseByIDNumber(ctx context.Context, idnumber string) (*Course, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
}

// Writer applies mutations. The dry-run variants log instead of writing, so
// the sync manager itself never branches on dry-run.
type Writer interface {
	CreateUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
	SuspendUser(ctx context.Context, username string) error
	CreateCourse(ctx context.Context, c Course) error
	Enrol(ctx context.Context, e Enrolment) error
}
