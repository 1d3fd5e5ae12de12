package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/internal/infrastructure/database/memory"
	"github.com/devilmonastery/passgate/web/internal/handlers"
	"github.com/devilmonastery/passgate/web/internal/middleware"
	"github.com/devilmonastery/passgate/web/internal/render"
	"github.com/devilmonastery/passgate/web/internal/session"
)

type fakeDirectory struct {
	mu        sync.Mutex
	passwords map[string]string
	names     map[string]string
	sets      int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		passwords: map[string]string{"alice@corp.local": "old-password", "bob@corp.local": "bob-password"},
		names:     map[string]string{"alice@corp.local": "Alice Liddell", "bob@corp.local": "Bob Builder"},
	}
}

func (d *fakeDirectory) Lookup(_ context.Context, principal string) (*directory.Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.names[principal]
	if !ok {
		return nil, directory.ErrPrincipalNotFound
	}
	return &directory.Principal{PrincipalName: principal, DisplayName: name}, nil
}

func (d *fakeDirectory) Authenticate(_ context.Context, principal, password string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return password != "" && d.passwords[principal] == password, nil
}

func (d *fakeDirectory) SetPassword(_ context.Context, principal, newPassword string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(newPassword) < 8 {
		return directory.ErrPasswordRejected
	}
	d.passwords[principal] = newPassword
	d.sets++
	return nil
}

func (d *fakeDirectory) password(principal string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.passwords[principal]
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMessenger) Deliver(_ context.Context, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *fakeMessenger) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

// failingIdentities fails the next Update with err
type failingIdentities struct {
	repositories.IdentityRepository
	mu  sync.Mutex
	err error
}

func (f *failingIdentities) failNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *failingIdentities) Update(ctx context.Context, identity *entities.Identity) error {
	f.mu.Lock()
	err := f.err
	f.err = nil
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.IdentityRepository.Update(ctx, identity)
}

type webEnv struct {
	router     http.Handler
	svc        *services.Services
	dir        *fakeDirectory
	chat       *fakeMessenger
	identities *memory.IdentityRepository
	failing    *failingIdentities
	healthErr  error
}

func newWebEnv(t *testing.T) *webEnv {
	t.Helper()

	cfg := config.Defaults()
	cfg.Directory.RequestDomain = "corp.local"
	cfg.Telegram.BotURL = "https://t.me/passgate_bot"

	repos := memory.New()
	env := &webEnv{
		dir:        newFakeDirectory(),
		chat:       &fakeMessenger{},
		identities: repos.Identities.(*memory.IdentityRepository),
	}
	env.failing = &failingIdentities{IdentityRepository: repos.Identities}
	repos.Identities = env.failing
	env.svc = services.New(services.Deps{
		Config:       cfg,
		Directory:    env.dir,
		Repositories: repos,
		Chat:         env.chat,
	})

	templates, err := render.LoadTemplates("templates")
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	mgr := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour, false)
	authMw := middleware.NewAuthMiddleware(mgr, env.svc.Sessions, slog.Default())
	h := handlers.New(env.svc, mgr, authMw, templates, slog.Default())
	env.router = createRouter(h, authMw, env, "static")
	return env
}

func (e *webEnv) HealthCheck(context.Context) error {
	return e.healthErr
}

// stored reloads a record straight from the repository
func (e *webEnv) stored(t *testing.T, login string) *entities.Identity {
	t.Helper()
	rec, err := e.identities.GetByLogin(context.Background(), login)
	if err != nil {
		t.Fatalf("GetByLogin(%q) error = %v", login, err)
	}
	return rec
}

// bindChat links chatID to login the way the bot does after a confirmed binding
func (e *webEnv) bindChat(t *testing.T, login string, chatID int64) {
	t.Helper()
	ctx := context.Background()
	rec, err := e.svc.Identities.Resolve(ctx, login)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := e.svc.Binding.CommitChat(ctx, rec, chatID); err != nil {
		t.Fatalf("CommitChat() error = %v", err)
	}
}

// browser keeps cookies between requests
type browser struct {
	t         *testing.T
	env       *webEnv
	userAgent string
	cookies   map[string]*http.Cookie
}

func (e *webEnv) browser(t *testing.T) *browser {
	return &browser{t: t, env: e, userAgent: "firefox", cookies: map[string]*http.Cookie{}}
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(http.MethodGet, path, nil)
}

func (b *browser) post(path string, form url.Values) *httptest.ResponseRecorder {
	return b.do(http.MethodPost, path, form)
}

func (b *browser) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("User-Agent", b.userAgent)
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	b.env.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) login(login, password string) {
	b.t.Helper()
	rec := b.post("/auth/login", url.Values{"login": {login}, "password": {password}})
	expectRedirect(b.t, rec, "/user")
}

func expectRedirect(t *testing.T, rec *httptest.ResponseRecorder, location string) {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303; body: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != location {
		t.Fatalf("Location = %q, want %q", got, location)
	}
}

func expectPage(t *testing.T, rec *httptest.ResponseRecorder, status int, fragments ...string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, status, rec.Body.String())
	}
	body := rec.Body.String()
	for _, f := range fragments {
		if !strings.Contains(body, f) {
			t.Errorf("body does not contain %q", f)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newWebEnv(t)
	b := env.browser(t)

	expectPage(t, b.get("/health"), http.StatusOK, "ok")

	env.healthErr = errors.New("db down")
	expectPage(t, b.get("/health"), http.StatusServiceUnavailable, "database unavailable")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newWebEnv(t)
	b := env.browser(t)

	b.get("/auth")
	expectPage(t, b.get("/metrics"), http.StatusOK, "passgate_http_requests_total")
}

func TestNotFound(t *testing.T) {
	b := newWebEnv(t).browser(t)
	expectPage(t, b.get("/nowhere"), http.StatusNotFound, "Page not found.")
}

func TestIndexRedirects(t *testing.T) {
	b := newWebEnv(t).browser(t)

	expectRedirect(t, b.get("/"), "/auth")
	b.login("alice", "old-password")
	expectRedirect(t, b.get("/"), "/user")
}

func TestProtectedRoutesRequireLogin(t *testing.T) {
	env := newWebEnv(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/user"},
		{http.MethodGet, "/user/reset_info"},
		{http.MethodGet, "/user/telegram_new"},
		{http.MethodPost, "/user/telegram_destroy"},
		{http.MethodGet, "/user/otp_new"},
		{http.MethodPost, "/user/otp_verify"},
		{http.MethodPost, "/user/otp_destroy"},
		{http.MethodPost, "/user/channels"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			b := env.browser(t)
			expectRedirect(t, b.do(tt.method, tt.path, url.Values{}), "/auth")
		})
	}
	if env.identities.Writes() != 0 {
		t.Errorf("Writes() = %d, want 0", env.identities.Writes())
	}
}

func TestLoginLogout(t *testing.T) {
	env := newWebEnv(t)
	b := env.browser(t)

	tests := []struct {
		name     string
		login    string
		password string
		want     string
	}{
		{name: "wrong password", login: "alice", password: "nope", want: "Wrong login or password."},
		{name: "empty password", login: "alice", password: "", want: "Wrong login or password."},
		{name: "foreign domain", login: "alice@evil.example.com", password: "old-password", want: "This login domain is not supported."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.post("/auth/login", url.Values{"login": {tt.login}, "password": {tt.password}})
			expectPage(t, rec, http.StatusOK, tt.want)
		})
	}

	b.login("alice", "old-password")
	expectPage(t, b.get("/user"), http.StatusOK, "Alice Liddell", "alice@corp.local", "not linked")
	expectRedirect(t, b.get("/auth"), "/user")
	expectRedirect(t, b.get("/auth/reset"), "/user")

	// Same cookie from another browser is not accepted
	thief := env.browser(t)
	thief.userAgent = "curl"
	thief.cookies = b.cookies
	expectRedirect(t, thief.get("/user"), "/auth")

	expectRedirect(t, b.post("/auth/logout", url.Values{}), "/auth")
	expectRedirect(t, b.get("/user"), "/auth")
}

func TestLoginReplacesOtherBrowserSession(t *testing.T) {
	env := newWebEnv(t)
	first := env.browser(t)
	second := env.browser(t)

	first.login("alice", "old-password")
	second.login("alice", "old-password")

	expectRedirect(t, first.get("/user"), "/auth")
	expectPage(t, second.get("/user"), http.StatusOK, "Alice Liddell")
}

func TestTelegramLinkAndUnlink(t *testing.T) {
	env := newWebEnv(t)
	b := env.browser(t)
	b.login("alice", "old-password")

	rec := b.get("/user/telegram_new")
	expectPage(t, rec, http.StatusOK, "https://t.me/passgate_bot?start=", "data:image/png;base64,")

	stored := env.stored(t, "alice@corp.local")
	if !stored.HasBindToken() || stored.BindDestination != entities.DestinationChat {
		t.Fatalf("bind slot = %v/%v, want a chat token", stored.BindToken, stored.BindDestination)
	}
	if !strings.Contains(rec.Body.String(), *stored.BindToken) {
		t.Error("page does not show the bind token")
	}

	env.bindChat(t, "alice", 4242)
	expectRedirect(t, b.get("/user/telegram_new"), "/user/reset_info")
	expectPage(t, b.get("/user/reset_info"), http.StatusOK, "Unlink Telegram", "<li>Telegram</li>")

	expectRedirect(t, b.post("/user/telegram_destroy", url.Values{}), "/user/reset_info?done=unlinked")
	if env.stored(t, "alice@corp.local").HasChat() {
		t.Error("chat still linked after unlink")
	}
	if got := env.chat.last(); got != "Integration cancelled for Alice Liddell." {
		t.Errorf("last chat message = %q", got)
	}
	expectPage(t, b.get("/user/reset_info?done=unlinked"), http.StatusOK, "Telegram was unlinked.", "Link Telegram")
}

func TestOTPEnrollment(t *testing.T) {
	env := newWebEnv(t)
	b := env.browser(t)
	b.login("alice", "old-password")

	expectPage(t, b.get("/user/otp_new"), http.StatusOK, "data:image/png;base64,")
	secret := *env.stored(t, "alice@corp.local").BindToken

	// Reloading keeps the secret the app may already have scanned
	expectPage(t, b.get("/user/otp_new"), http.StatusOK, secret)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	expectPage(t, b.post("/user/otp_verify", url.Values{"code": {wrong}}), http.StatusOK, "The code did not match", secret)
	expectRedirect(t, b.post("/user/otp_verify", url.Values{"code": {code}}), "/user/reset_info?done=otp")

	stored := env.stored(t, "alice@corp.local")
	if !stored.HasOTP() || *stored.OTPSecret != secret {
		t.Fatal("otp secret not committed")
	}
	if stored.HasBindToken() {
		t.Error("bind slot not cleared after commit")
	}

	expectRedirect(t, b.get("/user/otp_new"), "/user/reset_info")
	expectRedirect(t, b.post("/user/otp_verify", url.Values{"code": {code}}), "/user/otp_new")

	expectRedirect(t, b.post("/user/otp_destroy", url.Values{}), "/user/reset_info?done=otp_removed")
	if env.stored(t, "alice@corp.local").HasOTP() {
		t.Error("otp still enabled after destroy")
	}
}

func TestChannels(t *testing.T) {
	env := newWebEnv(t)
	b := env.browser(t)
	b.login("alice", "old-password")

	expectPage(t, b.post("/user/channels", url.Values{"email": {"not an address"}, "phone": {""}}),
		http.StatusBadRequest, "does not look right")
	if env.identities.Writes() != 0 {
		t.Fatalf("Writes() = %d after a rejected form, want 0", env.identities.Writes())
	}

	expectRedirect(t, b.post("/user/channels", url.Values{"email": {"Alice <alice@example.com>"}, "phone": {"+15550100"}}),
		"/user/reset_info?done=channels")
	stored := env.stored(t, "alice@corp.local")
	if stored.EmailChannel == nil || *stored.EmailChannel != "alice@example.com" {
		t.Errorf("EmailChannel = %v, want alice@example.com", stored.EmailChannel)
	}
	if stored.PhoneChannel == nil || *stored.PhoneChannel != "+15550100" {
		t.Errorf("PhoneChannel = %v, want +15550100", stored.PhoneChannel)
	}

	// A field left out of the form keeps its value
	expectRedirect(t, b.post("/user/channels", url.Values{"phone": {""}}), "/user/reset_info?done=channels")
	stored = env.stored(t, "alice@corp.local")
	if stored.PhoneChannel != nil {
		t.Errorf("PhoneChannel = %v, want cleared", *stored.PhoneChannel)
	}
	if stored.EmailChannel == nil {
		t.Error("EmailChannel cleared by a form without it")
	}
}

var resetCode = regexp.MustCompile(`\d{7}`)

func TestResetViaChat(t *testing.T) {
	env := newWebEnv(t)
	env.bindChat(t, "alice", 4242)
	b := env.browser(t)

	expectPage(t, b.get("/auth/reset?login=alice"), http.StatusOK, `value="alice"`)
	expectPage(t, b.post("/auth/reset", url.Values{"login": {"alice"}}), http.StatusOK,
		`value="chat"`, `value="alice@corp.local"`)

	choose := url.Values{"login": {"alice@corp.local"}, "destination": {"chat"}}
	expectPage(t, b.post("/auth/reset/choose", choose), http.StatusOK, "Telegram chat")
	code := resetCode.FindString(env.chat.last())
	if code == "" {
		t.Fatalf("no reset code in %q", env.chat.last())
	}

	submit := func(code, password, confirm string) *httptest.ResponseRecorder {
		return b.post("/auth/reset/submit", url.Values{
			"login":            {"alice@corp.local"},
			"destination":      {"chat"},
			"code":             {code},
			"password":         {password},
			"password_confirm": {confirm},
		})
	}

	// Form errors keep the outstanding token
	expectPage(t, submit(code, "new-password-1", "new-password-2"), http.StatusOK, "do not match")
	if !env.stored(t, "alice@corp.local").HasResetToken() {
		t.Fatal("reset token consumed by a form error")
	}

	expectRedirect(t, submit(code, "new-password-1", "new-password-1"), "/auth?reset=done")
	if got := env.dir.password("alice@corp.local"); got != "new-password-1" {
		t.Errorf("password = %q, want new-password-1", got)
	}
	if !strings.Contains(env.chat.last(), "was just changed") {
		t.Errorf("last chat message = %q, want a change notice", env.chat.last())
	}

	// Resubmitting the same form never succeeds twice
	expectPage(t, submit(code, "new-password-1", "new-password-1"), http.StatusOK, "wrong or has already been used")
	if env.dir.sets != 1 {
		t.Errorf("SetPassword calls = %d, want 1", env.dir.sets)
	}

	expectPage(t, b.get("/auth?reset=done"), http.StatusOK, "Your password was changed.")
	b.login("alice", "new-password-1")
}

func TestResetWrongCodeStoreFailureStartsOver(t *testing.T) {
	env := newWebEnv(t)
	env.bindChat(t, "alice", 4242)
	b := env.browser(t)

	choose := url.Values{"login": {"alice@corp.local"}, "destination": {"chat"}}
	expectPage(t, b.post("/auth/reset/choose", choose), http.StatusOK, "Telegram chat")

	env.failing.failNext(errors.New("connection reset"))
	rec := b.post("/auth/reset/submit", url.Values{
		"login":            {"alice@corp.local"},
		"destination":      {"chat"},
		"code":             {"abc"},
		"password":         {"new-password-1"},
		"password_confirm": {"new-password-1"},
	})
	expectPage(t, rec, http.StatusOK, `action="/auth/reset"`, "start over")
	if strings.Contains(rec.Body.String(), `action="/auth/reset/submit"`) {
		t.Error("store failure kept the code entry form open")
	}
	if env.dir.sets != 0 {
		t.Errorf("SetPassword calls = %d, want 0", env.dir.sets)
	}
}

func TestResetViaOTP(t *testing.T) {
	ctx := context.Background()
	env := newWebEnv(t)

	rec, err := env.svc.Identities.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	p, err := env.svc.OTP.Provision(ctx, rec)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	code, _ := totp.GenerateCode(p.Secret, time.Now().UTC())
	if err := env.svc.OTP.VerifyAndCommit(ctx, rec, code); err != nil {
		t.Fatalf("VerifyAndCommit() error = %v", err)
	}

	b := env.browser(t)
	expectPage(t, b.post("/auth/reset/choose", url.Values{"login": {"alice"}, "destination": {"otp"}}),
		http.StatusOK, "authenticator app")

	form := url.Values{
		"login":            {"alice@corp.local"},
		"destination":      {"otp"},
		"code":             {code},
		"password":         {"short"},
		"password_confirm": {"short"},
	}
	// Rejected by the password policy; the OTP form stays usable
	expectPage(t, b.post("/auth/reset/submit", form), http.StatusOK, "password policy", `name="destination" value="otp"`)

	form.Set("password", "long-enough-password")
	form.Set("password_confirm", "long-enough-password")
	expectRedirect(t, b.post("/auth/reset/submit", form), "/auth?reset=done")
}

func TestResetStartsOver(t *testing.T) {
	env := newWebEnv(t)
	b := env.browser(t)

	tests := []struct {
		name string
		path string
		form url.Values
		want string
	}{
		{
			name: "unknown login",
			path: "/auth/reset",
			form: url.Values{"login": {"mallory"}},
			want: "Login not found.",
		},
		{
			name: "unknown destination",
			path: "/auth/reset/choose",
			form: url.Values{"login": {"alice"}, "destination": {"fax"}},
			want: "Something went wrong. Please start over.",
		},
		{
			name: "chat not linked",
			path: "/auth/reset/choose",
			form: url.Values{"login": {"alice"}, "destination": {"chat"}},
			want: "Nothing to reset with",
		},
		{
			name: "email has no delivery",
			path: "/auth/reset/submit",
			form: url.Values{"login": {"alice"}, "destination": {"email"}, "code": {"1234567"},
				"password": {"long-enough-password"}, "password_confirm": {"long-enough-password"}},
			want: "Something went wrong. Please start over.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectPage(t, b.post(tt.path, tt.form), http.StatusOK, tt.want, `action="/auth/reset"`)
		})
	}
	if env.dir.sets != 0 {
		t.Errorf("SetPassword calls = %d, want 0", env.dir.sets)
	}
}

func TestLoadSessionSecret(t *testing.T) {
	log := slog.Default()

	t.Setenv("SESSION_SECRET", "")
	secret, err := loadSessionSecret("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=", log)
	if err != nil || string(secret) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("loadSessionSecret(config) = %q, %v", secret, err)
	}

	t.Setenv("SESSION_SECRET", "ZW52LXNlY3JldA==")
	secret, _ = loadSessionSecret("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=", log)
	if string(secret) != "env-secret" {
		t.Errorf("env secret not preferred, got %q", secret)
	}

	t.Setenv("SESSION_SECRET", "")
	secret, _ = loadSessionSecret("not base64!", log)
	if len(secret) != 32 {
		t.Errorf("random secret length = %d, want 32", len(secret))
	}
}
