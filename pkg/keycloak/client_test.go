package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeKeycloak(t *testing.T, groups []Group) (*httptest.Server, *int) {
	t.Helper()
	tokenRequests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/realms/edu/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-" + strconv.Itoa(tokenRequests),
			"expires_in":   300,
		})
	})
	mux.HandleFunc("/admin/realms/edu", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"realm": "edu"})
	})
	mux.HandleFunc("/admin/realms/edu/groups", func(w http.ResponseWriter, r *http.Request) {
		first, _ := strconv.Atoi(r.URL.Query().Get("first"))
		max, _ := strconv.Atoi(r.URL.Query().Get("max"))
		end := first + max
		if first > len(groups) {
			first = len(groups)
		}
		if end > len(groups) {
			end = len(groups)
		}
		json.NewEncoder(w).Encode(groups[first:end])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenRequests
}

func someGroups(n int) []Group {
	groups := make([]Group, n)
	for i := range groups {
		groups[i] = Group{ID: fmt.Sprintf("g-%d", i), Name: fmt.Sprintf("p_alle_f%d", i)}
	}
	return groups
}

func TestGetAllGroupsPagination(t *testing.T) {
	srv, _ := fakeKeycloak(t, someGroups(7))
	c := NewClient(Config{ServerURL: srv.URL, Realm: "edu", ClientID: "sync", ClientSecret: "s", PageSize: 3})

	groups, err := c.GetAllGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 7)
	require.Equal(t, "g-0", groups[0].ID)
	require.Equal(t, "g-6", groups[6].ID)
}

func TestTokenIsReused(t *testing.T) {
	srv, tokenRequests := fakeKeycloak(t, someGroups(2))
	c := NewClient(Config{ServerURL: srv.URL, Realm: "edu", ClientID: "sync", ClientSecret: "s", PageSize: 10})

	_, err := c.GetAllGroups(context.Background())
	require.NoError(t, err)
	status := c.TestConnection(context.Background())
	require.True(t, status.Success)
	require.Contains(t, status.Message, "edu")

	require.Equal(t, 1, *tokenRequests)
}

func TestTestConnectionReportsFailure(t *testing.T) {
	c := NewClient(Config{ServerURL: "http://127.0.0.1:1", Realm: "edu", ClientID: "x", ClientSecret: "y"})
	status := c.TestConnection(context.Background())
	require.False(t, status.Success)
	require.NotEmpty(t, status.Message)
}
