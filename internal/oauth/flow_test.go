package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "abc" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		assert.True(t, strings.HasSuffix(r.PostForm.Get("redirect_uri"), CallbackPath))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testProvider(tokenURL string) Provider {
	return Provider{
		Name: "test",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://auth.example.com/authorize",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		AuthOptions: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline},
	}
}

// redirectWith returns an OpenBrowser that plays the provider: it follows
// the consent URL straight back to the redirect with extra query values.
func redirectWith(t *testing.T, extra func(q url.Values)) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "offline", q.Get("access_type"))

		back := url.Values{}
		back.Set("state", q.Get("state"))
		extra(back)
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?" + back.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func newFlow(t *testing.T, open func(string) error) *Flow {
	return &Flow{
		Provider:     testProvider(tokenServer(t).URL),
		ClientID:     "client",
		ClientSecret: "secret",
		ListenAddr:   "127.0.0.1:0",
		RedirectHost: "127.0.0.1",
		OpenBrowser:  open,
	}
}

func TestFlowExchangesCode(t *testing.T) {
	f := newFlow(t, redirectWith(t, func(q url.Values) { q.Set("code", "abc") }))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok, err := f.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
}

func TestFlowReportsProviderError(t *testing.T) {
	f := newFlow(t, redirectWith(t, func(q url.Values) { q.Set("error", "access_denied") }))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := f.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestFlowRejectsForeignState(t *testing.T) {
	f := newFlow(t, redirectWith(t, func(q url.Values) {
		q.Set("state", "forged")
		q.Set("code", "abc")
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := f.Run(ctx)
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestFlowStopsWithContext(t *testing.T) {
	f := newFlow(t, func(string) error { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFlowNeedsClient(t *testing.T) {
	_, err := (&Flow{Provider: providers["google"]}).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingClient)
}

func TestLookup(t *testing.T) {
	p, err := Lookup("Google")
	require.NoError(t, err)
	assert.Equal(t, "https://oauth2.googleapis.com/token", p.Endpoint.TokenURL)
	assert.Contains(t, p.Scopes, "https://www.googleapis.com/auth/drive.file")

	_, err = Lookup("dropbox")
	assert.NoError(t, err)

	_, err = Lookup("s3")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}
