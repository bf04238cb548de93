// Package oauth runs the browser consent flow for cloud drives: the user
// approves access in a browser, the provider redirects to a loopback
// listener, and the authorization code is exchanged for tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/rescale/duopane/internal/logging"
)

const (
	// DefaultListenAddr is where the callback listener binds.
	DefaultListenAddr = "127.0.0.1:3456"

	// CallbackPath receives the provider redirect.
	CallbackPath = "/oauth/callback"
)

var (
	ErrUnsupportedProvider = errors.New("browser sign-in is not available for this provider")
	ErrStateMismatch       = errors.New("oauth callback state does not match")
	ErrMissingClient       = errors.New("browser sign-in needs a client ID and client secret")
)

// Provider holds one provider's consent endpoints and request options.
type Provider struct {
	Name        string
	Endpoint    oauth2.Endpoint
	Scopes      []string
	AuthOptions []oauth2.AuthCodeOption
}

var providers = map[string]Provider{
	"google": {
		Name: "google",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:  "https://oauth2.googleapis.com/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes:      []string{"https://www.googleapis.com/auth/drive.file"},
		AuthOptions: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
	},
	"dropbox": {
		Name: "dropbox",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://www.dropbox.com/oauth2/authorize",
			TokenURL:  "https://api.dropboxapi.com/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		AuthOptions: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("token_access_type", "offline")},
	},
}

// Lookup returns the consent settings for provider.
func Lookup(provider string) (Provider, error) {
	p, ok := providers[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	return p, nil
}

// Flow is one consent round trip.
type Flow struct {
	Provider     Provider
	ClientID     string
	ClientSecret string

	// ListenAddr defaults to DefaultListenAddr; port 0 picks a free port.
	ListenAddr string
	// RedirectHost is the host placed in the redirect URL (default "localhost").
	RedirectHost string
	// OpenBrowser shows the consent page; nil uses OpenURL.
	OpenBrowser func(url string) error
	// HTTPClient (optional) carries the code exchange, e.g. through a proxy.
	HTTPClient *http.Client
}

type callbackResult struct {
	code string
	err  error
}

// Run opens the consent page and waits for the redirect or ctx. The
// returned token carries the refresh token when the provider issued one.
func (f *Flow) Run(ctx context.Context) (*oauth2.Token, error) {
	if f.ClientID == "" || f.ClientSecret == "" {
		return nil, ErrMissingClient
	}
	logger := logging.NewLogger("oauth")

	addr := f.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	host := f.RedirectHost
	if host == "" {
		host = "localhost"
	}

	cfg := &oauth2.Config{
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		Endpoint:     f.Provider.Endpoint,
		RedirectURL:  "http://" + net.JoinHostPort(host, port) + CallbackPath,
		Scopes:       f.Provider.Scopes,
	}

	state := uuid.NewString()
	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go srv.Serve(ln)
	defer srv.Close()

	authURL := cfg.AuthCodeURL(state, f.Provider.AuthOptions...)
	open := f.OpenBrowser
	if open == nil {
		open = OpenURL
	}
	if err := open(authURL); err != nil {
		logger.Warn().Err(err).Msg("could not open a browser")
	}
	logger.Info().Str("provider", f.Provider.Name).Str("redirect", cfg.RedirectURL).Msg("waiting for consent")

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}
	tok, err := cfg.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	logger.Info().Str("provider", f.Provider.Name).Bool("refresh_token", tok.RefreshToken != "").Msg("signed in")
	return tok, nil
}

// callbackHandler answers the provider redirect and reports the first
// result on results.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	report := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "Authentication failed. You can close this window.", http.StatusBadRequest)
			report(callbackResult{err: ErrStateMismatch})
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authentication failed. You can close this window.", http.StatusForbidden)
			report(callbackResult{err: fmt.Errorf("oauth error from provider: %s", e)})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			report(callbackResult{err: errors.New("oauth callback carried no code")})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Authentication successful</h1><p>You can close this window and return to duopane.</p></body></html>")
		report(callbackResult{code: code})
	})
	return mux
}

// OpenURL opens url in the desktop browser.
func OpenURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
