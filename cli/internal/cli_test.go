package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/devilmonastery/passgate/internal/app"
	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/directory"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
)

type fakeDirectory struct {
	mu        sync.Mutex
	passwords map[string]string
}

func (d *fakeDirectory) Lookup(_ context.Context, principal string) (*directory.Principal, error) {
	switch principal {
	case "alice@corp.local":
		return &directory.Principal{PrincipalName: principal, DisplayName: "Alice Liddell"}, nil
	case "bob@corp.local":
		return &directory.Principal{PrincipalName: principal, DisplayName: "Bob Builder"}, nil
	}
	return nil, directory.ErrPrincipalNotFound
}

func (d *fakeDirectory) Authenticate(context.Context, string, string) (bool, error) {
	return false, nil
}

func (d *fakeDirectory) SetPassword(_ context.Context, principal, newPassword string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.passwords[principal] = newPassword
	return nil
}

type cliEnv struct {
	configPath string
	rt         *app.Runtime
	dir        *fakeDirectory
}

func newCliEnv(t *testing.T) *cliEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "passgate.yaml")
	data := []byte("database:\n  driver: memory\ndirectory:\n  request_domain: corp.local\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	env := &cliEnv{configPath: path, dir: &fakeDirectory{passwords: map[string]string{}}}
	env.rt, err = app.Open(context.Background(), cfg, app.Options{NodeID: idgen.NodeCLI, Directory: env.dir})
	if err != nil {
		t.Fatalf("app.Open() error = %v", err)
	}
	return env
}

// run executes one passgate invocation against the shared runtime
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(func(context.Context, *config.Config) (*app.Runtime, error) {
		return e.rt, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) services() *services.Services {
	return e.rt.Services(nil)
}

func TestIdentityShow(t *testing.T) {
	env := newCliEnv(t)

	out, err := env.run(t, "", "identity", "show", "alice")
	if err != nil {
		t.Fatalf("identity show error = %v", err)
	}
	for _, want := range []string{"alice@corp.local", "Alice Liddell", "Stored:", "false"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "", "identity", "show", "alice", "-o", "yaml")
	if err != nil {
		t.Fatalf("identity show -o yaml error = %v", err)
	}
	var v identityView
	if err := yaml.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output is not yaml: %v\n%s", err, out)
	}
	if v.Login != "alice@corp.local" || v.DisplayName != "Alice Liddell" || v.Stored {
		t.Errorf("yaml view = %+v", v)
	}

	if _, err := env.run(t, "", "identity", "show", "alice", "-o", "json"); err == nil {
		t.Error("expected an error for an unknown output format")
	}
	if _, err := env.run(t, "", "identity", "show", "mallory"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("show unknown login error = %v, want ErrNotFound", err)
	}
}

func TestIdentitySetChannel(t *testing.T) {
	env := newCliEnv(t)

	tests := []struct {
		name      string
		args      []string
		wantEmail string
		wantPhone string
		wantErr   bool
	}{
		{name: "no flags", args: nil, wantErr: true},
		{name: "set both", args: []string{"--email", "alice@example.com", "--phone", "+15550100"}, wantEmail: "alice@example.com", wantPhone: "+15550100"},
		{name: "clear phone keeps email", args: []string{"--phone", ""}, wantEmail: "alice@example.com"},
		{name: "clear email", args: []string{"--email", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"identity", "set-channel", "alice"}, tt.args...)
			_, err := env.run(t, "", args...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("set-channel error = %v", err)
			}

			out, err := env.run(t, "", "identity", "show", "alice", "-o", "yaml")
			if err != nil {
				t.Fatalf("show error = %v", err)
			}
			var v identityView
			if err := yaml.Unmarshal([]byte(out), &v); err != nil {
				t.Fatalf("yaml error = %v", err)
			}
			if v.Email != tt.wantEmail || v.Phone != tt.wantPhone {
				t.Errorf("email/phone = %q/%q, want %q/%q", v.Email, v.Phone, tt.wantEmail, tt.wantPhone)
			}
			if !v.Stored {
				t.Error("record not stored")
			}
		})
	}
}

func TestIdentityUnlinkChatAndAudit(t *testing.T) {
	ctx := context.Background()
	env := newCliEnv(t)
	svc := env.services()

	rec, err := svc.Identities.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := svc.Binding.CommitChat(ctx, rec, 4242); err != nil {
		t.Fatalf("CommitChat() error = %v", err)
	}

	out, err := env.run(t, "", "identity", "show", "alice")
	if err != nil || !strings.Contains(out, "4242") {
		t.Fatalf("show = %q, %v; want chat 4242", out, err)
	}

	out, err = env.run(t, "", "identity", "unlink-chat", "alice")
	if err != nil || !strings.Contains(out, "Chat unlinked") {
		t.Fatalf("unlink-chat = %q, %v", out, err)
	}
	out, err = env.run(t, "", "identity", "unlink-chat", "alice")
	if err != nil || !strings.Contains(out, "No chat linked") {
		t.Fatalf("second unlink-chat = %q, %v", out, err)
	}

	out, err = env.run(t, "", "identity", "audit", "alice")
	if err != nil {
		t.Fatalf("audit error = %v", err)
	}
	for _, want := range []string{"ACTION", "chat.bound", "chat.unbound", `"chat_id":4242`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit output does not contain %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "", "identity", "audit", "bob")
	if err != nil || !strings.Contains(out, "No audit entries") {
		t.Errorf("audit bob = %q, %v", out, err)
	}
}

func TestIdentityDestroyOTP(t *testing.T) {
	env := newCliEnv(t)

	out, err := env.run(t, "", "identity", "destroy-otp", "alice")
	if err != nil || !strings.Contains(out, "No authenticator enrolled") {
		t.Fatalf("destroy-otp = %q, %v", out, err)
	}
}

func TestDirectorySetPassword(t *testing.T) {
	env := newCliEnv(t)

	out, err := env.run(t, "n3w-Passw0rd\n", "directory", "set-password", "alice")
	if err != nil {
		t.Fatalf("set-password error = %v", err)
	}
	if !strings.Contains(out, "Password set for alice@corp.local") {
		t.Errorf("output = %q", out)
	}
	if got := env.dir.passwords["alice@corp.local"]; got != "n3w-Passw0rd" {
		t.Errorf("password = %q, want n3w-Passw0rd", got)
	}

	if _, err := env.run(t, "", "directory", "set-password", "bob"); err == nil {
		t.Error("expected an error for an empty password")
	}
	if _, err := env.run(t, "secret\n", "directory", "set-password", "mallory"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("unknown login error = %v, want ErrNotFound", err)
	}
}

func TestSessionsCleanup(t *testing.T) {
	env := newCliEnv(t)

	out, err := env.run(t, "", "sessions", "cleanup")
	if err != nil {
		t.Fatalf("sessions cleanup error = %v", err)
	}
	if !strings.Contains(out, "Deleted 0 expired session(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestMigrateNeedsDatabase(t *testing.T) {
	env := newCliEnv(t)

	if _, err := env.run(t, "", "migrate"); !errors.Is(err, app.ErrNoDatabase) {
		t.Errorf("migrate error = %v, want ErrNoDatabase", err)
	}
}
