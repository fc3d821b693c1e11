package segment

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fyrsmithlabs/geosegment/internal/config"
)

// NewHTTPClient returns the HTTP client for the backend. When OAuth2 client
// credentials are configured, requests carry a bearer token fetched from the
// token endpoint and refreshed on expiry; otherwise it is a plain client.
// The configured timeout applies to both the token and the backend requests.
func NewHTTPClient(ctx context.Context, b config.BackendConfig) *http.Client {
	if !b.OAuthEnabled() {
		return &http.Client{Timeout: b.Timeout}
	}

	cc := &clientcredentials.Config{
		ClientID:     b.OAuthClientID,
		ClientSecret: b.OAuthClientSecret.Value(),
		TokenURL:     b.OAuthTokenURL,
		Scopes:       strings.Fields(b.OAuthScopes),
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: b.Timeout})

	hc := cc.Client(ctx)
	hc.Timeout = b.Timeout
	return hc
}
