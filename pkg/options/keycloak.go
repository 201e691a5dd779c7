package options

import (
	"fmt"

	"github.com/edulution/moodle-connector/pkg/keycloak"
)

// KeycloakOptions holds the directory-service connection options.
type KeycloakOptions struct {
	ServerURL    string
	Realm        string
	ClientID     string
	ClientSecret string
	PageSize     int

	// Client may be preset (tests inject fakes through it).
	Client keycloak.Directory
}

// Complete validates credentials and constructs the client. Missing
// credentials fail here, before anything touched the target.
func (o *KeycloakOptions) Complete() error {
	if o.Client != nil {
		return nil
	}
	if o.ServerURL == "" {
		return fmt.Errorf("must provide keycloak server url")
	}
	if o.Realm == "" {
		return fmt.Errorf("must provide keycloak realm")
	}
	if o.ClientID == "" || o.ClientSecret == "" {
		return fmt.Errorf("must provide keycloak client credentials")
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	o.Client = keycloak.NewClient(keycloak.Config{
		ServerURL:    o.ServerURL,
		Realm:        o.Realm,
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		PageSize:     o.PageSize,
	})
	return nil
}
