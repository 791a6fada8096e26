package copernicus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

const defaultTokenURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"

// tokenSource obtains and caches a Copernicus Data Space access token
// via the password grant. Tokens are refreshed one minute before their
// advertised expiry so an in-flight request never carries a token that
// expires mid-transfer.
type tokenSource struct {
	username string
	password string
	tokenURL string
	client   *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newTokenSource(username, password, tokenURL string, client *http.Client) *tokenSource {
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &tokenSource{
		username: username,
		password: password,
		tokenURL: tokenURL,
		client:   client,
	}
}

// Token returns a valid access token, fetching a new one when the
// cached token is missing or about to expire.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := domain.Now()
	if ts.token != "" && now.Before(ts.expiry) {
		return ts.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {ts.username},
		"password":   {ts.password},
		"client_id":  {"cdse-public"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	ts.token = body.AccessToken
	ts.expiry = now.Add(time.Duration(body.ExpiresIn-60) * time.Second)
	return ts.token, nil
}
