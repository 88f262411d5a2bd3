package cli

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/r9s-ai/paypoint-blue/internal/config"
	"github.com/r9s-ai/paypoint-blue/internal/version"
)

const testMasterKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=" // base64("0123456789abcdef0123456789abcdef")

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmdOutput(t *testing.T) {
	t.Parallel()

	cmd := newVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(nil)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute version cmd: %v", err)
	}

	got := strings.TrimSpace(buf.String())
	want := strings.TrimSpace(fmt.Sprint(version.Get()))
	if got != want {
		t.Fatalf("version output=%q want=%q", got, want)
	}
}

func TestRootCmdHasSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{"serve", "check", "crypto", "version"} {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Fatalf("find %s subcommand: %v", name, err)
		}
	}
	if _, _, err := root.Find([]string{"crypto", "gen-master-key"}); err != nil {
		t.Fatalf("find crypto gen-master-key: %v", err)
	}
}

func TestCryptoEncrypt_RoundTrip(t *testing.T) {
	t.Setenv(config.MasterKeyEnv, testMasterKey)

	out, err := execute(t, "", "crypto", "encrypt", "--text", "secret")
	if err != nil {
		t.Fatalf("encrypt err=%v", err)
	}
	enc := strings.TrimSpace(out)
	if !config.IsEncrypted(enc) {
		t.Fatalf("unexpected output %q", out)
	}

	piped, err := execute(t, "cb-secret\n", "crypto", "encrypt")
	if err != nil {
		t.Fatalf("encrypt stdin err=%v", err)
	}

	cfg, err := config.Parse([]byte("gateway:\n  api_password: \"" + enc + "\"\ncallbacks:\n  token: \"" + strings.TrimSpace(piped) + "\"\n"))
	if err != nil {
		t.Fatalf("Parse err=%v", err)
	}
	if cfg.Gateway.APIPassword != "secret" || cfg.Callbacks.Token != "cb-secret" {
		t.Fatalf("round trip: %q %q", cfg.Gateway.APIPassword, cfg.Callbacks.Token)
	}

	if _, err := execute(t, "  \n", "crypto", "encrypt"); err == nil || !strings.Contains(err.Error(), "missing input") {
		t.Fatalf("expected missing input error, got %v", err)
	}
}

func TestCryptoGenMasterKey(t *testing.T) {
	out, err := execute(t, "", "crypto", "gen-master-key")
	if err != nil {
		t.Fatalf("gen-master-key err=%v", err)
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	if err != nil || len(b) != 32 {
		t.Fatalf("key %q: len=%d err=%v", out, len(b), err)
	}

	out, err = execute(t, "", "crypto", "gen-master-key", "--format", "base64url", "--export")
	if err != nil {
		t.Fatalf("gen-master-key --export err=%v", err)
	}
	if !strings.HasPrefix(out, "export "+config.MasterKeyEnv+"='") {
		t.Fatalf("export line=%q", out)
	}
	key := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(out), "export "+config.MasterKeyEnv+"='"), "'")

	t.Setenv(config.MasterKeyEnv, key)
	if _, err := config.Encrypt("secret"); err != nil {
		t.Fatalf("generated base64url key rejected: %v", err)
	}

	if _, err := execute(t, "", "crypto", "gen-master-key", "--format", "hex"); err == nil {
		t.Fatalf("expected invalid format error")
	}
}

func writeCheckConfig(t *testing.T, endpoint string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blue.yaml")
	content := "gateway:\n  endpoint: " + endpoint + "\n  inst_id: \"1234\"\n  api_id: ABC\n  api_password: secret\n"
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/acceptor/rest/transactions/ping" {
			http.NotFound(w, r)
			return
		}
		code := int(status.Load())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if code != http.StatusOK {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"outcome":{"status":"SUCCESS","reasonCode":"S100","reasonMessage":"Ping successful"}}`))
	}))
	defer srv.Close()
	path := writeCheckConfig(t, srv.URL+"/acceptor/rest")

	out, err := execute(t, "", "check", "-c", path)
	if err != nil {
		t.Fatalf("check err=%v", err)
	}
	if !strings.Contains(out, "config ok: api gateway "+srv.URL) || strings.Contains(out, "ping ok") {
		t.Fatalf("check output=%q", out)
	}

	out, err = execute(t, "", "check", "-c", path, "--ping")
	if err != nil {
		t.Fatalf("check --ping err=%v", err)
	}
	if !strings.Contains(out, "ping ok") {
		t.Fatalf("check --ping output=%q", out)
	}

	status.Store(http.StatusServiceUnavailable)
	if _, err := execute(t, "", "check", "-c", path, "--ping"); err == nil || !strings.Contains(err.Error(), "did not answer") {
		t.Fatalf("expected ping failure, got %v", err)
	}

	if _, err := execute(t, "", "check", "-c", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected load error")
	}
}
