package authgate_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	ag "github.com/authgate/authgate"
)

// =============================================================================
// Test Fakes
// =============================================================================

// memAdapter is an in-memory adapter with per-method error injection.
type memAdapter struct {
	mu       sync.Mutex
	users    map[string]*ag.User
	accounts map[string]*ag.Account
	nextID   int

	linkCalls   int
	updateCalls int

	failGetUser    bool
	failCreateUser bool
	failLink       bool
	failUpdate     bool
}

func newMemAdapter() *memAdapter {
	return &memAdapter{
		users:    make(map[string]*ag.User),
		accounts: make(map[string]*ag.Account),
	}
}

func accountKey(provider, providerAccountID string) string {
	return provider + ":" + providerAccountID
}

func (m *memAdapter) GetUser(_ context.Context, id string) (*ag.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetUser {
		return nil, errors.New("adapter down")
	}
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memAdapter) GetUserByEmail(_ context.Context, email string) (*ag.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAdapter) GetUserByAccount(_ context.Context, provider, providerAccountID string) (*ag.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[accountKey(provider, providerAccountID)]; ok {
		if u, ok := m.users[acct.UserID]; ok {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAdapter) CreateUser(_ context.Context, user *ag.User) (*ag.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateUser {
		return nil, errors.New("adapter down")
	}
	m.nextID++
	cp := *user
	cp.ID = fmt.Sprintf("user-%d", m.nextID)
	m.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memAdapter) UpdateUser(_ context.Context, patch ag.UserPatch) (*ag.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failUpdate {
		return nil, errors.New("adapter down")
	}
	u, ok := m.users[patch.ID]
	if !ok {
		return nil, errors.New("user not found")
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.EmailVerified != nil {
		u.EmailVerified = *patch.EmailVerified
	}
	if patch.Image != nil {
		u.Image = *patch.Image
	}
	cp := *u
	return &cp, nil
}

func (m *memAdapter) LinkAccount(_ context.Context, account *ag.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkCalls++
	if m.failLink {
		return errors.New("adapter down")
	}
	key := accountKey(account.Provider, account.ProviderAccountID)
	if _, exists := m.accounts[key]; exists {
		return errors.New("account already linked")
	}
	cp := *account
	m.accounts[key] = &cp
	return nil
}

func (m *memAdapter) account(provider, providerAccountID string) *ag.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[accountKey(provider, providerAccountID)]
}

// fakeTokens implements ag.TokenSet with switchable per-field failures.
type fakeTokens struct {
	accessToken  string
	refreshToken string
	idToken      string
	expiresAt    time.Time
	scopes       []string

	failAccess  bool
	failRefresh bool
	failID      bool
	failExpiry  bool
}

func (f *fakeTokens) AccessToken() (string, error) {
	if f.failAccess {
		return "", errors.New("no access token")
	}
	return f.accessToken, nil
}

func (f *fakeTokens) RefreshToken() (string, error) {
	if f.failRefresh {
		return "", errors.New("no refresh token")
	}
	return f.refreshToken, nil
}

func (f *fakeTokens) AccessTokenExpiresAt() (time.Time, error) {
	if f.failExpiry {
		return time.Time{}, errors.New("no expiry")
	}
	return f.expiresAt, nil
}

func (f *fakeTokens) IDToken() (string, error) {
	if f.failID {
		return "", errors.New("no id token")
	}
	return f.idToken, nil
}

func (f *fakeTokens) TokenType() (string, error) { return "Bearer", nil }

func (f *fakeTokens) Scopes() ([]string, error) {
	if len(f.scopes) == 0 {
		return nil, errors.New("no scopes")
	}
	return f.scopes, nil
}

// fakeProvider returns a fixed profile and token set from ValidateCallback.
type fakeProvider struct {
	id             string
	needsRedirect  bool
	profile        *ag.Profile
	tokens         *fakeTokens
	callbackErr    error
	gotVerifier    string
	gotRedirectURI string
}

func (p *fakeProvider) ID() string                { return p.id }
func (p *fakeProvider) RequiresRedirectURI() bool { return p.needsRedirect }

func (p *fakeProvider) AuthorizationURL(state, codeVerifier, redirectURI string) (string, error) {
	u := "https://provider.example.com/auth?state=" + url.QueryEscape(state)
	if redirectURI != "" {
		u += "&redirect_uri=" + url.QueryEscape(redirectURI)
	}
	return u, nil
}

func (p *fakeProvider) ValidateCallback(_ context.Context, code, codeVerifier, redirectURI string) (*ag.Profile, ag.TokenSet, error) {
	p.gotVerifier = codeVerifier
	p.gotRedirectURI = redirectURI
	if p.callbackErr != nil {
		return nil, nil, p.callbackErr
	}
	return p.profile, p.tokens, nil
}

func defaultFakeProvider() *fakeProvider {
	return &fakeProvider{
		id: "google",
		profile: &ag.Profile{
			ID:            "gid-1",
			Email:         "alice@example.com",
			EmailVerified: true,
			Name:          "Alice",
			Avatar:        "https://example.com/a.png",
		},
		tokens: &fakeTokens{
			accessToken:  "access-1",
			refreshToken: "refresh-1",
			idToken:      "id-1",
			expiresAt:    time.Now().Add(time.Hour),
			scopes:       []string{"openid", "email"},
		},
	}
}

type testEnv struct {
	auth     *ag.Auth
	adapter  *memAdapter
	provider *fakeProvider
}

func newTestEnv(t *testing.T, mutate func(*ag.Options)) *testEnv {
	t.Helper()
	adapter := newMemAdapter()
	provider := defaultFakeProvider()
	opts := ag.Options{
		Adapter:   adapter,
		Providers: []ag.Provider{provider},
		JWT:       ag.JWTOptions{Secret: "test-secret"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	auth, err := ag.New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &testEnv{auth: auth, adapter: adapter, provider: provider}
}

func cookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
}

// signInAndCallback drives a full flow and returns the callback response.
func signInAndCallback(t *testing.T, env *testEnv, signInQuery string) *http.Response {
	t.Helper()

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/google"+signInQuery, nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("Sign-in status = %d, body %s", rr.Code, rr.Body.String())
	}
	signInResp := rr.Result()

	csrf := cookieByName(signInResp, ag.CSRFCookieName)
	pkce := cookieByName(signInResp, ag.PKCECookieName)
	if csrf == nil || pkce == nil {
		t.Fatal("Sign-in did not set flow cookies")
	}

	loc, err := url.Parse(signInResp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("Bad redirect location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("No state in provider redirect")
	}

	req := httptest.NewRequest("GET", "/api/auth/google/callback?code=code-1&state="+url.QueryEscape(state), nil)
	req.AddCookie(&http.Cookie{Name: ag.CSRFCookieName, Value: csrf.Value})
	req.AddCookie(&http.Cookie{Name: ag.PKCECookieName, Value: pkce.Value})
	if cb := cookieByName(signInResp, ag.CallbackURICookieName); cb != nil {
		req.AddCookie(&http.Cookie{Name: ag.CallbackURICookieName, Value: cb.Value})
	}

	rr = httptest.NewRecorder()
	env.auth.ServeHTTP(rr, req)
	return rr.Result()
}

// =============================================================================
// Sign-In Tests
// =============================================================================

func TestSignInRedirect(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/google?redirectTo=/dashboard", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := rr.Result()

	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("Bad location: %v", err)
	}
	state := loc.Query().Get("state")

	csrf := cookieByName(resp, ag.CSRFCookieName)
	if csrf == nil || csrf.Value == "" {
		t.Fatal("Expected CSRF cookie")
	}
	if !csrf.HttpOnly || !csrf.Secure || csrf.SameSite != http.SameSiteNoneMode {
		t.Errorf("Unexpected CSRF cookie attributes: %+v", csrf)
	}
	if csrf.MaxAge != int(ag.CSRFMaxAge.Seconds()) {
		t.Errorf("Expected CSRF MaxAge %d, got %d", int(ag.CSRFMaxAge.Seconds()), csrf.MaxAge)
	}
	if pkce := cookieByName(resp, ag.PKCECookieName); pkce == nil || pkce.Value == "" {
		t.Fatal("Expected PKCE cookie")
	}

	// State is csrf token plus the base64 redirect target.
	parts := strings.SplitN(state, ".", 2)
	if parts[0] != csrf.Value {
		t.Errorf("State CSRF segment %q != cookie %q", parts[0], csrf.Value)
	}
	if len(parts) != 2 {
		t.Fatal("Expected redirect segment in state")
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || string(decoded) != "/dashboard" {
		t.Errorf("State redirect segment decoded to %q, %v", decoded, err)
	}
}

func TestSignInJSONMode(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/google?redirect=false", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var body struct {
		URL string `json:"url"`
	}
	decodeBody(t, rr.Result(), &body)
	if !strings.HasPrefix(body.URL, "https://provider.example.com/auth") {
		t.Errorf("Unexpected url: %q", body.URL)
	}
	if cookieByName(rr.Result(), ag.CSRFCookieName) == nil {
		t.Error("Expected flow cookies even in JSON mode")
	}
}

func TestSignInUnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/unknown", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr.Result(), &body)
	if body["error"] != "Provider not found" {
		t.Errorf("Unexpected error: %q", body["error"])
	}
}

func TestSignInDerivesCallbackURI(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.needsRedirect = true

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/google", nil))

	resp := rr.Result()
	cb := cookieByName(resp, ag.CallbackURICookieName)
	if cb == nil {
		t.Fatal("Expected callback URI cookie")
	}
	if cb.Value != "http://example.com/api/auth/google/callback" {
		t.Errorf("Unexpected callback URI: %q", cb.Value)
	}

	loc, _ := url.Parse(resp.Header.Get("Location"))
	if got := loc.Query().Get("redirect_uri"); got != cb.Value {
		t.Errorf("Provider redirect_uri %q != cookie %q", got, cb.Value)
	}
}

// =============================================================================
// Callback Tests
// =============================================================================

func TestCallbackCreatesUserAndSession(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := signInAndCallback(t, env, "?redirectTo=/dashboard")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/dashboard" {
		t.Errorf("Expected redirect to /dashboard, got %q", loc)
	}

	session := cookieByName(resp, ag.SessionCookieName)
	if session == nil || session.Value == "" {
		t.Fatal("Expected session cookie")
	}
	if session.MaxAge != int(env.auth.SessionTTL().Seconds()) {
		t.Errorf("Session MaxAge = %d", session.MaxAge)
	}

	// Flow cookies are cleared on success.
	if csrf := cookieByName(resp, ag.CSRFCookieName); csrf == nil || csrf.MaxAge >= 0 {
		t.Error("Expected CSRF cookie deletion")
	}

	user, sess, err := env.auth.ValidateSession(context.Background(), session.Value)
	if err != nil || user == nil {
		t.Fatalf("Session does not validate: %v", err)
	}
	if user.Email != "alice@example.com" || !user.EmailVerified {
		t.Errorf("Unexpected user: %+v", user)
	}
	if sess.UserID() != user.ID {
		t.Errorf("Session subject %q != user %q", sess.UserID(), user.ID)
	}

	acct := env.adapter.account("google", "gid-1")
	if acct == nil {
		t.Fatal("Expected linked account")
	}
	if acct.AccessToken != "access-1" || acct.RefreshToken != "refresh-1" || acct.IDToken != "id-1" {
		t.Errorf("Unexpected account tokens: %+v", acct)
	}
	if acct.ExpiresAt == nil || acct.ExpiresAt.IsZero() {
		t.Error("Expected account expiry")
	}
	if acct.Scope != "openid email" {
		t.Errorf("Unexpected scope: %q", acct.Scope)
	}
	if env.provider.gotVerifier == "" {
		t.Error("Provider did not receive the PKCE verifier")
	}
}

func TestCallbackIdempotentForReturningUser(t *testing.T) {
	env := newTestEnv(t, nil)

	first := signInAndCallback(t, env, "")
	if first.StatusCode != http.StatusFound {
		t.Fatalf("First callback failed: %d", first.StatusCode)
	}
	second := signInAndCallback(t, env, "")
	if second.StatusCode != http.StatusFound {
		t.Fatalf("Second callback failed: %d", second.StatusCode)
	}

	if len(env.adapter.users) != 1 {
		t.Errorf("Expected 1 user, got %d", len(env.adapter.users))
	}
	if env.adapter.linkCalls != 1 {
		t.Errorf("Expected 1 link call, got %d", env.adapter.linkCalls)
	}
}

func TestCallbackMissingParameters(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name   string
		target string
	}{
		{"missing code", "/api/auth/google/callback?state=abc"},
		{"missing state", "/api/auth/google/callback?code=abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			env.auth.ServeHTTP(rr, httptest.NewRequest("GET", tc.target, nil))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rr.Code)
			}
			var body map[string]string
			decodeBody(t, rr.Result(), &body)
			if body["error"] != "Missing code or state" {
				t.Errorf("Unexpected error: %q", body["error"])
			}
		})
	}
}

func TestCallbackCSRFMismatch(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("GET", "/api/auth/google/callback?code=c&state=state-from-attacker", nil)
	req.AddCookie(&http.Cookie{Name: ag.CSRFCookieName, Value: "real-csrf"})
	req.AddCookie(&http.Cookie{Name: ag.PKCECookieName, Value: "verifier"})

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr.Result(), &body)
	if body["error"] != "Invalid CSRF token" {
		t.Errorf("Unexpected error: %q", body["error"])
	}
}

func TestCallbackMissingCSRFCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("GET", "/api/auth/google/callback?code=c&state=whatever", nil)
	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rr.Code)
	}
}

func TestCallbackMissingPKCECookie(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("GET", "/api/auth/google/callback?code=c&state=tok", nil)
	req.AddCookie(&http.Cookie{Name: ag.CSRFCookieName, Value: "tok"})

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr.Result(), &body)
	if body["error"] != "Missing PKCE code verifier" {
		t.Errorf("Unexpected error: %q", body["error"])
	}
}

func TestCallbackProviderFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.callbackErr = errors.New("exchange blew up")

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "Failed to validate callback" {
		t.Errorf("Unexpected error: %q", body["error"])
	}
	if strings.Contains(body["error"], "blew up") {
		t.Error("Provider error leaked to client")
	}
}

func TestCallbackCreateUserFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.adapter.failCreateUser = true

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "Failed to create user" {
		t.Errorf("Unexpected error: %q", body["error"])
	}
}

func TestCallbackLinkFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.adapter.failLink = true

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "Failed to link account" {
		t.Errorf("Unexpected error: %q", body["error"])
	}
}

func TestCallbackDegradedTokenFields(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.tokens.failRefresh = true
	env.provider.tokens.failID = true
	env.provider.tokens.failExpiry = true

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected 302, got %d", resp.StatusCode)
	}

	acct := env.adapter.account("google", "gid-1")
	if acct == nil {
		t.Fatal("Expected linked account")
	}
	if acct.AccessToken != "access-1" {
		t.Errorf("Expected access token, got %q", acct.AccessToken)
	}
	if acct.RefreshToken != "" || acct.IDToken != "" || acct.ExpiresAt != nil {
		t.Errorf("Expected degraded optional fields, got %+v", acct)
	}
}

func TestCallbackMissingAccessTokenFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.tokens.failAccess = true

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "Failed to link account" {
		t.Errorf("Unexpected error: %q", body["error"])
	}
}

// =============================================================================
// Auto-Link Policy Tests
// =============================================================================

func seedUser(t *testing.T, env *testEnv, user *ag.User) *ag.User {
	t.Helper()
	created, err := env.adapter.CreateUser(context.Background(), user)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	return created
}

func TestAutoLinkVerifiedEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	existing := seedUser(t, env, &ag.User{Email: "alice@example.com", Name: "Old Alice"})

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Callback failed: %d", resp.StatusCode)
	}

	if len(env.adapter.users) != 1 {
		t.Fatalf("Expected reuse of existing user, got %d users", len(env.adapter.users))
	}
	acct := env.adapter.account("google", "gid-1")
	if acct == nil || acct.UserID != existing.ID {
		t.Errorf("Account linked to %+v, want user %s", acct, existing.ID)
	}
	// The provider vouched for the email, so the flag upgrades.
	u, _ := env.adapter.GetUser(context.Background(), existing.ID)
	if !u.EmailVerified {
		t.Error("Expected emailVerified upgrade")
	}
}

func TestAutoLinkSkipsUnverifiedEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	seedUser(t, env, &ag.User{Email: "alice@example.com"})
	env.provider.profile.EmailVerified = false

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Callback failed: %d", resp.StatusCode)
	}
	if len(env.adapter.users) != 2 {
		t.Errorf("Expected a second user, got %d", len(env.adapter.users))
	}
}

func TestAutoLinkAlways(t *testing.T) {
	env := newTestEnv(t, func(o *ag.Options) { o.AutoLink = ag.AutoLinkAlways })
	existing := seedUser(t, env, &ag.User{Email: "alice@example.com"})
	env.provider.profile.EmailVerified = false

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Callback failed: %d", resp.StatusCode)
	}
	if len(env.adapter.users) != 1 {
		t.Errorf("Expected reuse, got %d users", len(env.adapter.users))
	}
	// Unverified provider email must not upgrade the flag.
	u, _ := env.adapter.GetUser(context.Background(), existing.ID)
	if u.EmailVerified {
		t.Error("Unexpected emailVerified upgrade")
	}
}

func TestAutoLinkNever(t *testing.T) {
	env := newTestEnv(t, func(o *ag.Options) { o.AutoLink = ag.AutoLinkNever })
	seedUser(t, env, &ag.User{Email: "alice@example.com"})

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Callback failed: %d", resp.StatusCode)
	}
	if len(env.adapter.users) != 2 {
		t.Errorf("Expected a second user, got %d", len(env.adapter.users))
	}
}

func TestAutoLinkSkippedWithoutEmail(t *testing.T) {
	env := newTestEnv(t, func(o *ag.Options) { o.AutoLink = ag.AutoLinkAlways })
	seedUser(t, env, &ag.User{Email: ""})
	env.provider.profile.Email = ""

	resp := signInAndCallback(t, env, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Callback failed: %d", resp.StatusCode)
	}
	if len(env.adapter.users) != 2 {
		t.Errorf("Expected a second user, got %d", len(env.adapter.users))
	}
}

// =============================================================================
// Session Delivery Tests
// =============================================================================

func TestCallbackDeepLinkHandoff(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := signInAndCallback(t, env, "?redirectTo="+url.QueryEscape("myapp://home"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 handoff, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML, got %q", ct)
	}
	if cookieByName(resp, ag.SessionCookieName) != nil {
		t.Error("Deep-link delivery must not set a session cookie")
	}

	body := readBody(t, resp)
	if !strings.Contains(body, `myapp://home?token=`) {
		t.Errorf("Handoff page missing token destination: %s", body)
	}
}

func TestCallbackCrossHostHandoff(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := signInAndCallback(t, env, "?redirectTo="+url.QueryEscape("https://other.example.org/app"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 handoff, got %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "https://other.example.org/app?token=") {
		t.Errorf("Handoff page missing destination: %s", body)
	}
}

// =============================================================================
// Session Introspection and Sign-Out Tests
// =============================================================================

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	user := seedUser(t, env, &ag.User{Email: "alice@example.com", Name: "Alice"})
	token, err := env.auth.CreateSession(user.ID, nil, 0)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	t.Run("valid cookie", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: ag.SessionCookieName, Value: token})
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rr.Code)
		}
		var body struct {
			User    *ag.User       `json:"user"`
			Session map[string]any `json:"session"`
		}
		decodeBody(t, rr.Result(), &body)
		if body.User == nil || body.User.ID != user.ID {
			t.Errorf("Unexpected user: %+v", body.User)
		}
		if body.Session["id"] != token {
			t.Error("Session id should be the raw token")
		}
		if body.Session["sub"] != user.ID {
			t.Errorf("Session sub = %v", body.Session["sub"])
		}
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/auth/session", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rr.Code)
		}
	})

	t.Run("no token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/session", nil))
		assertNullSession(t, rr)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: ag.SessionCookieName, Value: "garbage"})
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, req)
		assertNullSession(t, rr)
	})

	t.Run("deleted user", func(t *testing.T) {
		orphan, err := env.auth.CreateSession("ghost", nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest("GET", "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: ag.SessionCookieName, Value: orphan})
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, req)
		assertNullSession(t, rr)
	})

	t.Run("adapter failure", func(t *testing.T) {
		env.adapter.failGetUser = true
		defer func() { env.adapter.failGetUser = false }()

		req := httptest.NewRequest("GET", "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: ag.SessionCookieName, Value: token})
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, req)
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("Expected 500, got %d", rr.Code)
		}
		var body map[string]string
		decodeBody(t, rr.Result(), &body)
		if body["error"] != "Failed to validate session" {
			t.Errorf("Unexpected error: %q", body["error"])
		}
	})
}

func assertNullSession(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rr.Code)
	}
	var body map[string]json.RawMessage
	decodeBody(t, rr.Result(), &body)
	if string(body["user"]) != "null" || string(body["session"]) != "null" {
		t.Errorf("Expected null user and session, got %s", rr.Body.String())
	}
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("POST", "/api/auth/signout", nil)
	req.Header.Set("Origin", "http://example.com")
	req.AddCookie(&http.Cookie{Name: ag.SessionCookieName, Value: "whatever"})

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr.Result(), &body)
	if body["message"] != "Signed out" {
		t.Errorf("Unexpected body: %v", body)
	}
	session := cookieByName(rr.Result(), ag.SessionCookieName)
	if session == nil || session.MaxAge >= 0 || session.Value != "" {
		t.Errorf("Expected session cookie deletion, got %+v", session)
	}
}

// =============================================================================
// Routing, Origin and CORS Tests
// =============================================================================

func TestRouting(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name   string
		method string
		target string
		origin string
		want   int
	}{
		{"outside base path", "GET", "/other", "", http.StatusNotFound},
		{"base path root", "GET", "/api/auth", "", http.StatusNotFound},
		{"three segments", "GET", "/api/auth/a/b/c", "", http.StatusNotFound},
		{"two segments non-callback", "GET", "/api/auth/google/other", "", http.StatusNotFound},
		{"post unknown", "POST", "/api/auth/google", "http://example.com", http.StatusNotFound},
		{"unsupported method", "PUT", "/api/auth/session", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rr := httptest.NewRecorder()
			env.auth.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Errorf("Expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestPostOriginGuard(t *testing.T) {
	env := newTestEnv(t, func(o *ag.Options) { o.TrustHosts = []string{"trusted.example.org"} })

	post := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/auth/signout", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, req)
		return rr
	}

	t.Run("same origin allowed", func(t *testing.T) {
		if rr := post("http://example.com"); rr.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rr.Code)
		}
	})
	t.Run("trusted host allowed", func(t *testing.T) {
		if rr := post("https://trusted.example.org"); rr.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rr.Code)
		}
	})
	t.Run("untrusted origin rejected", func(t *testing.T) {
		rr := post("https://evil.example.org")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("Expected 403, got %d", rr.Code)
		}
		var body map[string]string
		decodeBody(t, rr.Result(), &body)
		if body["error"] != "Forbidden" {
			t.Errorf("Unexpected error: %q", body["error"])
		}
	})
	t.Run("missing origin rejected", func(t *testing.T) {
		if rr := post(""); rr.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", rr.Code)
		}
	})
}

func TestPostOriginGuardTrustAll(t *testing.T) {
	env := newTestEnv(t, func(o *ag.Options) { o.TrustHosts = []string{"all"} })

	req := httptest.NewRequest("POST", "/api/auth/signout", nil)
	req.Header.Set("Origin", "https://anywhere.example.net")
	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/api/auth/session", nil)
		req.Header.Set("Origin", "https://app.example.org")
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", rr.Code)
		}
		h := rr.Header()
		if h.Get("Access-Control-Allow-Origin") != "https://app.example.org" {
			t.Errorf("Unexpected allow-origin: %q", h.Get("Access-Control-Allow-Origin"))
		}
		if h.Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("Expected credentials header")
		}
	})

	t.Run("reflected on normal responses", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/auth/session", nil)
		req.Header.Set("Origin", "https://app.example.org")
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, req)

		h := rr.Header()
		if h.Get("Access-Control-Allow-Origin") != "https://app.example.org" {
			t.Errorf("Unexpected allow-origin: %q", h.Get("Access-Control-Allow-Origin"))
		}
		if h.Get("Vary") != "Origin" {
			t.Errorf("Expected Vary: Origin, got %q", h.Get("Vary"))
		}
	})

	t.Run("absent without origin", func(t *testing.T) {
		rr := httptest.NewRecorder()
		env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/session", nil))
		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("Expected no CORS headers without Origin")
		}
	})
}

func TestCustomBasePath(t *testing.T) {
	env := newTestEnv(t, func(o *ag.Options) { o.BasePath = "/auth/" })

	rr := httptest.NewRecorder()
	env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/auth/google", nil))
	if rr.Code != http.StatusFound {
		t.Errorf("Expected 302 under custom base path, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.auth.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/google", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 outside custom base path, got %d", rr.Code)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return string(data)
}
