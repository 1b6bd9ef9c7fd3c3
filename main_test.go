package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/config"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName != "Collaboration Relay" {
		t.Errorf("Unexpected app name %s", AppName)
	}
}

func testConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	if vars == nil {
		vars = map[string]string{}
	}
	if _, ok := vars["RELAY_SIGNING_KEY"]; !ok {
		vars["RELAY_SIGNING_KEY"] = testSigningKey
	}
	cfg, err := config.LoadFrom(vars)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return cfg
}

func TestNewRelay(t *testing.T) {
	cfg := testConfig(t, map[string]string{"RELAY_ALLOWED_ORIGINS": "https://notes.example.com"})
	relay := newRelay(cfg, "http://127.0.0.1:1")
	defer relay.Gateway.Shutdown(context.Background())

	ts := httptest.NewServer(relay.Handler)
	defer ts.Close()

	get := func(path string, header http.Header) (*http.Response, string) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp, string(body)
	}

	if resp, _ := get("/healthz", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthz 200, got %d", resp.StatusCode)
	}

	resp, body := get("/token?clientId=alice", http.Header{"Origin": {"https://notes.example.com"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected token 200, got %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://notes.example.com" {
		t.Errorf("Expected CORS origin echoed, got %q", got)
	}

	var tok token.Token
	if err := json.Unmarshal([]byte(body), &tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	claims, err := relay.Issuer.Verify(tok.Value)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Expected subject alice, got %s", claims.Subject)
	}

	if _, body := get("/metrics", nil); !strings.Contains(body, "relay_tokens_issued_total") {
		t.Error("Expected token counter in /metrics output")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker(testConfig(t, map[string]string{"RELAY_ALLOWED_ORIGINS": "https://notes.example.com"}))

	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{origin: "", host: "relay.example.com", want: true},
		{origin: "https://notes.example.com", host: "relay.example.com", want: true},
		{origin: "https://relay.example.com", host: "relay.example.com", want: true},
		{origin: "https://evil.example.com", host: "relay.example.com", want: false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}
}

func TestLocalBaseURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{host: "localhost", want: "http://localhost:8080"},
		{host: "0.0.0.0", want: "http://localhost:8080"},
		{host: "10.0.0.5", want: "http://10.0.0.5:8080"},
	}

	for _, tt := range tests {
		cfg := testConfig(t, map[string]string{"RELAY_HOST": tt.host})
		if got := localBaseURL(cfg); got != tt.want {
			t.Errorf("host %q: expected %s, got %s", tt.host, tt.want, got)
		}
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("RELAY_SIGNING_KEY", testSigningKey)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	err := app.Run(context.Background(), []string{
		"relay", "--env-file", "",
		"token", "--client-id", "alice", "--capability", "subscribe", "--room", "doc-*",
	})
	if err != nil {
		t.Fatalf("token command failed: %v", err)
	}

	var tok token.Token
	if err := json.Unmarshal(out.Bytes(), &tok); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}

	claims, err := token.NewIssuer([]byte(testSigningKey)).Verify(tok.Value)
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if !claims.Allows(token.Subscribe, "doc-1") || claims.Has(token.Publish) {
		t.Errorf("Unexpected claims: %+v", claims)
	}
}

func TestConfigCheckCommand(t *testing.T) {
	t.Setenv("RELAY_SIGNING_KEY", "short")

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	err := app.Run(context.Background(), []string{"relay", "--env-file", "", "config", "check"})
	if err == nil || !strings.Contains(err.Error(), "RELAY_SIGNING_KEY") {
		t.Fatalf("Expected signing key problem, got %v", err)
	}

	t.Setenv("RELAY_SIGNING_KEY", testSigningKey)
	out.Reset()
	app = newApp()
	app.Writer = &out
	if err := app.Run(context.Background(), []string{"relay", "--env-file", "", "--port", "9090", "config", "check"}); err != nil {
		t.Fatalf("config check failed: %v", err)
	}
	if !strings.Contains(out.String(), "localhost:9090") {
		t.Errorf("Expected port override in output, got %q", out.String())
	}
}
