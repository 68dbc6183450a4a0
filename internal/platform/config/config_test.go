package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"FIRESTORE_PROJECT_ID": "proj-test",
		"GATEWAY_API_KEY":      "key-123",
		"GATEWAY_SECRET_KEY":   "secret-123",
		"FRONT_BASE_URL":       "https://shop.example",
		"ADMIN_BASE_URL":       "https://admin.example/",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(baseEnv()),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Server.Port)
	}
	if cfg.Gateway.BaseURL != "https://api.iyzipay.com" {
		t.Fatalf("unexpected gateway base url %s", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.VerifyTimeout != 10*time.Second {
		t.Fatalf("unexpected verify timeout %s", cfg.Gateway.VerifyTimeout)
	}
	if cfg.Gateway.VerifyRetries != 2 {
		t.Fatalf("unexpected verify retries %d", cfg.Gateway.VerifyRetries)
	}
	if cfg.URLs.AdminBaseURL != "https://admin.example" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.URLs.AdminBaseURL)
	}
	if cfg.Events.ProjectID != "proj-test" {
		t.Fatalf("expected events project to fall back to firestore project, got %s", cfg.Events.ProjectID)
	}
}

func TestLoadReportsMissingFields(t *testing.T) {
	env := baseEnv()
	delete(env, "GATEWAY_SECRET_KEY")
	delete(env, "FRONT_BASE_URL")

	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
	)

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := strings.Join(validation.Fields(), ",")
	if !strings.Contains(fields, "GATEWAY_SECRET_KEY") || !strings.Contains(fields, "FRONT_BASE_URL") {
		t.Fatalf("unexpected missing fields %s", fields)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["GATEWAY_SECRET_KEY"] = "secret://projects/p/secrets/gateway-key"

	var resolvedRef string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		resolvedRef = ref
		return "resolved-secret", nil
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.SecretKey != "resolved-secret" {
		t.Fatalf("expected resolved secret, got %s", cfg.Gateway.SecretKey)
	}
	if resolvedRef != "projects/p/secrets/gateway-key" {
		t.Fatalf("unexpected resolver ref %s", resolvedRef)
	}
}

func TestLoadSecretReferenceWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["GATEWAY_API_KEY"] = "secret://projects/p/secrets/api-key"

	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
	)

	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
}

func TestEnvironmentValuesMergesEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nexport PORT=9090\nGATEWAY_LOCALE=\"en\"\nBROKEN LINE\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	values, err := EnvironmentValues(
		WithoutSystemEnv(),
		WithEnvFile(path),
		WithEnvMap(map[string]string{"PORT": "7070"}),
	)
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["PORT"] != "7070" {
		t.Fatalf("expected override to win, got %s", values["PORT"])
	}
	if values["GATEWAY_LOCALE"] != "en" {
		t.Fatalf("expected quotes stripped, got %q", values["GATEWAY_LOCALE"])
	}
}
