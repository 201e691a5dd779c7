package e2e

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edulution/moodle-connector/pkg/cmd/syncer"
	"github.com/edulution/moodle-connector/pkg/keycloak"
	"github.com/edulution/moodle-connector/pkg/streams"
	"github.com/edulution/moodle-connector/pkg/urlreplace"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// fakeDirectory stands in for keycloak so the end-to-end test only needs a
// postgres container.
type fakeDirectory struct {
	groups  []keycloak.Group
	members map[string][]keycloak.User
}

func (f *fakeDirectory) TestConnection(ctx context.Context) keycloak.ConnectionStatus {
	return keycloak.ConnectionStatus{Success: true, Message: "ok"}
}

func (f *fakeDirectory) GetAllGroups(ctx context.Context) ([]keycloak.Group, error) {
	return f.groups, nil
}

func (f *fakeDirectory) GetUsers(ctx context.Context, filter string, limit, offset int) ([]keycloak.User, error) {
	return nil, nil
}

func (f *fakeDirectory) GetGroupMembers(ctx context.Context, groupID string, offset, limit int) ([]keycloak.User, error) {
	members := f.members[groupID]
	if offset >= len(members) {
		return nil, nil
	}
	end := offset + limit
	if end > len(members) {
		end = len(members)
	}
	return members[offset:end], nil
}

func enabledUser(username string) keycloak.User {
	return keycloak.User{
		ID:        "kc-" + username,
		Username:  username,
		Email:     username + "@school.example",
		FirstName: "Test",
		LastName:  username,
		Enabled:   true,
	}
}

func TestSyncAgainstPostgres(t *testing.T) {
	require := require.New(t)
	pg, port := postgres(t, "postgres:secret", 5432)
	connString, testpool := newTestDB(t, pg, "postgres:secret", port)

	dir := &fakeDirectory{
		groups: []keycloak.Group{
			{ID: "g1", Name: "p_alle_bio"},
			{ID: "g2", Name: "p_mueller_bio_10a"},
			{ID: "g3", Name: "admins"},
		},
		members: map[string][]keycloak.User{
			"g1": {enabledUser("mueller")},
			"g2": {enabledUser("mueller"), enabledUser("anna"), enabledUser("ben")},
		},
	}

	ctx := context.Background()
	run := func() {
		s, _, _, _ := streams.NewTestIO()
		o := syncer.NewOptions(s)
		o.Keycloak.Client = dir
		o.Postgres.PostgresURI = connString
		o.Mode = "full"
		require.NoError(o.Complete())
		require.NoError(o.Run(ctx))
	}

	run()

	var users int
	require.NoError(testpool.QueryRow(ctx, "SELECT count(*) FROM mdl_user").Scan(&users))
	require.Equal(3, users)

	var courses int
	require.NoError(testpool.QueryRow(ctx, "SELECT count(*) FROM mdl_course WHERE idnumber LIKE 'kc-course:%'").Scan(&courses))
	require.Equal(2, courses)

	var enrolments int
	require.NoError(testpool.QueryRow(ctx, "SELECT count(*) FROM mdl_user_enrolments").Scan(&enrolments))
	require.Equal(4, enrolments)

	// the captured teacher gets the owner role on their course
	var ownerRoles int
	require.NoError(testpool.QueryRow(ctx, `
		SELECT count(*) FROM mdl_role_assignments ra
		JOIN mdl_role r ON r.id = ra.roleid
		JOIN mdl_user u ON u.id = ra.userid
		WHERE r.shortname = 'editingteacher' AND u.username = 'mueller'`).Scan(&ownerRoles))
	require.GreaterOrEqual(ownerRoles, 1)

	// second run changes nothing
	run()
	require.NoError(testpool.QueryRow(ctx, "SELECT count(*) FROM mdl_user").Scan(&users))
	require.Equal(3, users)
	require.NoError(testpool.QueryRow(ctx, "SELECT count(*) FROM mdl_course WHERE idnumber LIKE 'kc-course:%'").Scan(&courses))
	require.Equal(2, courses)
	require.NoError(testpool.QueryRow(ctx, "SELECT count(*) FROM mdl_user_enrolments").Scan(&enrolments))
	require.Equal(4, enrolments)
}

func TestURLReplaceAgainstPostgres(t *testing.T) {
	require := require.New(t)
	pg, port := postgres(t, "postgres:secret", 5432)
	_, testpool := newTestDB(t, pg, "postgres:secret", port)

	ctx := context.Background()
	oldURL := "https://old.example"
	newURL := "https://moodle.new.example"

	_, err := testpool.Exec(ctx, `INSERT INTO mdl_config (name, value) VALUES
		('wwwroot', 'https://old.example'),
		('summary', 'see https://old.example/course and https://old.example/grades'),
		('unrelated', 'nothing to see')`)
	require.NoError(err)

	// length prefix must match the embedded URL byte count
	_, err = testpool.Exec(ctx, `INSERT INTO mdl_config_plugins (plugin, name, value) VALUES
		('theme_boost', 'settings', 'a:2:{s:4:"logo";s:28:"https://old.example/logo.png";s:5:"count";i:3;}')`)
	require.NoError(err)

	// the underscore in the prefix is a literal, not a wildcard: this
	// table must never be scanned or rewritten
	_, err = testpool.Exec(ctx, `CREATE TABLE mdlxconfig (id bigserial PRIMARY KEY, value text)`)
	require.NoError(err)
	_, err = testpool.Exec(ctx, `INSERT INTO mdlxconfig (value) VALUES ('https://old.example')`)
	require.NoError(err)

	replacer := urlreplace.NewReplacer(testpool, "mdl_")

	preview, err := replacer.Preview(ctx, oldURL, newURL)
	require.NoError(err)
	require.Equal(4, preview.Total)

	applied, err := replacer.ReplaceAll(ctx, oldURL, newURL)
	require.NoError(err)
	require.Equal(4, applied.Total)

	var wwwroot string
	require.NoError(testpool.QueryRow(ctx, "SELECT value FROM mdl_config WHERE name = 'wwwroot'").Scan(&wwwroot))
	require.Equal(newURL, wwwroot)

	// serialized payload keeps a correct length prefix
	var serialized string
	require.NoError(testpool.QueryRow(ctx, "SELECT value FROM mdl_config_plugins WHERE name = 'settings'").Scan(&serialized))
	require.Equal(`a:2:{s:4:"logo";s:35:"https://moodle.new.example/logo.png";s:5:"count";i:3;}`, serialized)

	// the near-prefix table was left alone
	var foreign string
	require.NoError(testpool.QueryRow(ctx, "SELECT value FROM mdlxconfig").Scan(&foreign))
	require.Equal(oldURL, foreign)

	// idempotent: a second pass finds nothing
	second, err := replacer.Preview(ctx, oldURL, newURL)
	require.NoError(err)
	require.Zero(second.Total)
}
