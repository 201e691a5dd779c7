package moodle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const courseContextLevel = 50

// PgStore implements Reader and Writer against a moodle postgres schema.
type PgStore struct {
	conn   *pgxpool.Pool
	prefix string
}

var (
	_ Reader = (*PgStore)(nil)
	_ Writer = (*PgStore)(nil)
)

// NewPgStore returns a store for tables under the given prefix (e.g. "mdl_").
func NewPgStore(conn *pgxpool.Pool, prefix string) *PgStore {
	return &PgStore{conn: conn, prefix: prefix}
}

func (s *PgStore) table(name string) string {
	return pgx.Identifier{s.prefix + name}.Sanitize()
}

// CourseByIDNumber finds a course by its external idnumber key.
func (s *PgStore) CourseByIDNumber(ctx context.Context, idnumber string) (*Course, error) {
	query := fmt.Sprintf(
		"SELECT id, fullname, shortname, idnumber FROM %s WHERE idnumber = $1",
		s.table("course"))
	var c Course
	err := s.conn.QueryRow(ctx, query, idnumber).Scan(&c.ID, &c.Fullname, &c.Shortname, &c.IDNumber)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UserByUsername finds a user row by username.
func (s *PgStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	query := fmt.Sprintf(
		"SELECT id, username, email, firstname, lastname, idnumber, suspended <> 0 FROM %s WHERE username = $1 AND deleted = 0",
		s.table("user"))
	var u User
	err := s.conn.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IDNumber, &u.Suspended)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user with oauth2 auth; credentials stay in the
// identity provider, so no usable password hash is stored.
func (s *PgStore) CreateUser(ctx context.Context, u User) error {
	now := time.Now().Unix()
	query := fmt.Sprintf(`INSERT INTO %s
		(auth, confirmed, mnethostid, username, password, idnumber, firstname, lastname, email, suspended, deleted, timecreated, timemodified)
		VALUES ('oauth2', 1, 1, $1, 'not cached', $2, $3, $4, $5, 0, 0, $6, $6)`,
		s.table("user"))
	_, err := s.conn.Exec(ctx, query, u.Username, u.IDNumber, u.FirstName, u.LastName, u.Email, now)
	return err
}

// UpdateUser refreshes the directory-managed fields of an existing user.
func (s *PgStore) UpdateUser(ctx context.Context, u User) error {
	query := fmt.Sprintf(
		"UPDATE %s SET email = $1, firstname = $2, lastname = $3, suspended = 0, timemodified = $4 WHERE username = $5 AND deleted = 0",
		s.table("user"))
	_, err := s.conn.Exec(ctx, query, u.Email, u.FirstName, u.LastName, time.Now().Unix(), u.Username)
	return err
}

// SuspendUser soft-disables a user that disappeared from the directory.
func (s *PgStore) SuspendUser(ctx context.Context, username string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET suspended = 1, timemodified = $1 WHERE username = $2 AND deleted = 0",
		s.table("user"))
	_, err := s.conn.Exec(ctx, query, time.Now().Unix(), username)
	return err
}

// CreateCourse inserts the course row plus the scaffolding moodle expects
// around it: the category path, the course context and a manual enrol
// instance for later enrolments.
func (s *PgStore) CreateCourse(ctx context.Context, c Course) error {
	categoryID, err := s.ensureCategoryPath(ctx, c.CategoryPath)
	if err != nil {
		return fmt.Errorf("resolving category %q: %w", c.CategoryPath, err)
	}

	now := time.Now().Unix()
	query := fmt.Sprintf(`INSERT INTO %s
		(category, fullname, shortname, idnumber, summary, summaryformat, format, visible, timecreated, timemodified)
		VALUES ($1, $2, $3, $4, '', 1, 'topics', 1, $5, $5)
		RETURNING id`,
		s.table("course"))
	var courseID int64
	if err := s.conn.QueryRow(ctx, query, categoryID, c.Fullname, c.Shortname, c.IDNumber, now).Scan(&courseID); err != nil {
		return err
	}

	ctxQuery := fmt.Sprintf(
		"INSERT INTO %s (contextlevel, instanceid, depth, path) VALUES ($1, $2, 2, '') RETURNING id",
		s.table("context"))
	var contextID int64
	if err := s.conn.QueryRow(ctx, ctxQuery, courseContextLevel, courseID).Scan(&contextID); err != nil {
		return err
	}
	pathQuery := fmt.Sprintf("UPDATE %s SET path = '/1/' || id WHERE id = $1", s.table("context"))
	if _, err := s.conn.Exec(ctx, pathQuery, contextID); err != nil {
		return err
	}

	enrolQuery := fmt.Sprintf(
		"INSERT INTO %s (enrol, status, courseid, sortorder, timecreated, timemodified) VALUES ('manual', 0, $1, 0, $2, $2)",
		s.table("enrol"))
	_, err = s.conn.Exec(ctx, enrolQuery, courseID, now)
	return err
}

// Enrol adds the user to the course's manual enrol instance and assigns the
// role in the course context. Both inserts are conditional, so re-enrolling
// an existing member is a no-op.
func (s *PgStore) Enrol(ctx context.Context, e Enrolment) error {
	course, err := s.CourseByIDNumber(ctx, e.CourseIDNumber)
	if err != nil {
		return err
	}
	if course == nil {
		return fmt.Errorf("no course with idnumber %q", e.CourseIDNumber)
	}
	user, err := s.UserByUsername(ctx, e.Username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user %q", e.Username)
	}

	var enrolID int64
	enrolQuery := fmt.Sprintf(
		"SELECT id FROM %s WHERE courseid = $1 AND enrol = 'manual'", s.table("enrol"))
	if err := s.conn.QueryRow(ctx, enrolQuery, course.ID).Scan(&enrolID); err != nil {
		return fmt.Errorf("course %q has no manual enrol instance: %w", e.CourseIDNumber, err)
	}

	now := time.Now().Unix()
	ueQuery := fmt.Sprintf(`INSERT INTO %s (enrolid, userid, status, timestart, timecreated, timemodified)
		SELECT $1, $2, 0, $3, $3, $3
		WHERE NOT EXISTS (SELECT 1 FROM %s WHERE enrolid = $1 AND userid = $2)`,
		s.table("user_enrolments"), s.table("user_enrolments"))
	if _, err := s.conn.Exec(ctx, ueQuery, enrolID, user.ID, now); err != nil {
		return err
	}

	var roleID int64
	roleQuery := fmt.Sprintf("SELECT id FROM %s WHERE shortname = $1", s.table("role"))
	if err := s.conn.QueryRow(ctx, roleQuery, e.Role).Scan(&roleID); err != nil {
		return fmt.Errorf("unknown role %q: %w", e.Role, err)
	}

	var contextID int64
	ctxQuery := fmt.Sprintf(
		"SELECT id FROM %s WHERE contextlevel = $1 AND instanceid = $2", s.table("context"))
	if err := s.conn.QueryRow(ctx, ctxQuery, courseContextLevel, course.ID).Scan(&contextID); err != nil {
		return fmt.Errorf("course %q has no context: %w", e.CourseIDNumber, err)
	}

	raQuery := fmt.Sprintf(`INSERT INTO %s (roleid, contextid, userid, timemodified, modifierid)
		SELECT $1, $2, $3, $4, 0
		WHERE NOT EXISTS (SELECT 1 FROM %s WHERE roleid = $1 AND contextid = $2 AND userid = $3)`,
		s.table("role_assignments"), s.table("role_assignments"))
	_, err = s.conn.Exec(ctx, raQuery, roleID, contextID, user.ID, now)
	return err
}

// ensureCategoryPath walks a "Parent/Child" path, creating missing
// categories level by level, and returns the leaf category id. An empty
// path lands in the default category.
func (s *PgStore) ensureCategoryPath(ctx context.Context, path string) (int64, error) {
	if strings.TrimSpace(path) == "" {
		return 1, nil
	}

	var parent int64
	for _, segment := range strings.Split(path, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		id, err := s.categoryByName(ctx, segment, parent)
		if err != nil {
			return 0, err
		}
		if id == 0 {
			id, err = s.createCategory(ctx, segment, parent)
			if err != nil {
				return 0, err
			}
		}
		parent = id
	}
	if parent == 0 {
		return 1, nil
	}
	return parent, nil
}

func (s *PgStore) categoryByName(ctx context.Context, name string, parent int64) (int64, error) {
	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE name = $1 AND parent = $2", s.table("course_categories"))
	var id int64
	err := s.conn.QueryRow(ctx, query, name, parent).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return id, err
}

func (s *PgStore) createCategory(ctx context.Context, name string, parent int64) (int64, error) {
	now := time.Now().Unix()
	query := fmt.Sprintf(`INSERT INTO %s (name, parent, depth, path, sortorder, visible, timemodified)
		VALUES ($1, $2, 0, '', 0, 1, $3)
		RETURNING id`,
		s.table("course_categories"))
	var id int64
	if err := s.conn.QueryRow(ctx, query, name, parent, now).Scan(&id); err != nil {
		return 0, err
	}
	// depth and path depend on the generated id
	fix := fmt.Sprintf(`UPDATE %s c SET
		depth = COALESCE((SELECT p.depth FROM %s p WHERE p.id = c.parent), 0) + 1,
		path = COALESCE((SELECT p.path FROM %s p WHERE p.id = c.parent), '') || '/' || c.id
		WHERE c.id = $1`,
		s.table("course_categories"), s.table("course_categories"), s.table("course_categories"))
	if _, err := s.conn.Exec(ctx, fix, id); err != nil {
		return 0, err
	}
	return id, nil
}
