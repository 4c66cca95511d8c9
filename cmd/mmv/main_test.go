package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/KimHG1995/db-migration-checker/internal/config"
	"github.com/KimHG1995/db-migration-checker/internal/history"
	"github.com/KimHG1995/db-migration-checker/internal/logging"
	"github.com/KimHG1995/db-migration-checker/internal/report"
	"github.com/KimHG1995/db-migration-checker/internal/secrets"
)

func noSecrets(t *testing.T) {
	t.Helper()
	t.Setenv(secrets.SecretsFileEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	secrets.Reset()
	t.Cleanup(secrets.Reset)
}

// captureConfig runs buildConfig under a "run" command with the real flag set.
func captureConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var (
		cfg *config.Config
		err error
	)
	app := newApp()
	app.Commands[0].Action = func(c *cli.Context) error {
		cfg, err = buildConfig(c)
		return nil
	}
	if runErr := app.Run(append([]string{"mmv"}, args...)); runErr != nil {
		t.Fatalf("app.Run() error: %v", runErr)
	}
	return cfg, err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, exitOK},
		{"mismatch", cli.Exit("", exitFailed), exitFailed},
		{"fatal", cli.Exit("bad config", exitFatal), exitFatal},
		{"plain error", errors.New("flag provided but not defined"), exitFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.expected {
				t.Errorf("exitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestFlagsOnlyConfig(t *testing.T) {
	noSecrets(t)

	cfg, err := captureConfig(t, "run",
		"--src-host", "old-db", "--src-user", "root", "--src-pass", "pw", "--src-db", "shop",
		"--dst-host", "new-db", "--dst-port", "3307", "--dst-user", "root", "--dst-db", "shop",
		"--tables", "users, orders", "--exclude-tables", "orders",
		"--hash-mode", "pk-range", "--hash-pk", "id", "--hash-chunk-size", "5000",
		"--workers", "8", "--fail-fast", "--skip-hash-on-count-mismatch",
		"--out", "out.json",
	)
	if err != nil {
		t.Fatalf("buildConfig() error: %v", err)
	}

	if cfg.Source.Host != "old-db" || cfg.Source.Password != "pw" || cfg.Source.Port != 3306 {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Destination.Port != 3307 {
		t.Errorf("destination port = %d", cfg.Destination.Port)
	}
	v := cfg.Verify
	if !reflect.DeepEqual(v.Tables, []string{"users", "orders"}) || !reflect.DeepEqual(v.ExcludeTables, []string{"orders"}) {
		t.Errorf("tables = %v exclude = %v", v.Tables, v.ExcludeTables)
	}
	if v.HashMode != "pk-range" || v.HashPK != "id" || v.ChunkSize != 5000 || v.Workers != 8 {
		t.Errorf("verify = %+v", v)
	}
	if !v.FailFast || !v.SkipHashOnCountMismatch || v.StopOnFirstChunkMismatch {
		t.Errorf("bool flags = %+v", v)
	}
	if cfg.Output.Path != "out.json" {
		t.Errorf("out = %q", cfg.Output.Path)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	noSecrets(t)
	path := filepath.Join(t.TempDir(), "mmv.yaml")
	yml := `
source: {host: src, user: u, database: app}
destination: {host: dst, user: u, database: app}
verify: {hash_mode: sample, sample_limit: 50, workers: 3}
logging: {level: debug}
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := captureConfig(t, "--config", path, "--log-level", "warn", "run", "--sample-limit", "10")
	if err != nil {
		t.Fatalf("buildConfig() error: %v", err)
	}
	if cfg.Verify.HashMode != "sample" || cfg.Verify.SampleLimit != 10 || cfg.Verify.Workers != 3 {
		t.Errorf("verify = %+v", cfg.Verify)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q, want flag value", cfg.Logging.Level)
	}
}

func TestInvalidConfigIsFatal(t *testing.T) {
	noSecrets(t)
	logging.SetOutput(new(bytes.Buffer))
	defer logging.SetOutput(nil)

	app := newApp()
	app.Writer = new(bytes.Buffer)
	err := app.Run([]string{"mmv", "run",
		"--src-host", "db", "--src-user", "u", "--src-db", "app",
		"--dst-host", "db", "--dst-user", "u", "--dst-db", "app",
	})
	if exitCode(err) != exitFatal {
		t.Fatalf("exit code = %d, want %d (err = %v)", exitCode(err), exitFatal, err)
	}
	if !strings.Contains(err.Error(), "cannot be the same database") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInitConfig(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"mmv", "init-config"}, "hash_mode:"},
		{[]string{"mmv", "init-config", "--secrets"}, "passwords:"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var buf bytes.Buffer
			app := newApp()
			app.Writer = &buf
			if err := app.Run(tt.args); err != nil {
				t.Fatalf("app.Run() error: %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, buf.String())
			}
		})
	}
}

func TestInitSecretsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "mmv-config.yaml")
	t.Setenv(secrets.SecretsFileEnvVar, path)

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	if err := app.Run([]string{"mmv", "init-config", "--secrets", "--write"}); err != nil {
		t.Fatalf("app.Run() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("secrets file not written: %v", err)
	}

	again := newApp()
	again.Writer = new(bytes.Buffer)
	err := again.Run([]string{"mmv", "init-config", "--secrets", "--write"})
	if exitCode(err) != exitFatal {
		t.Errorf("second write: exit code = %d, want %d", exitCode(err), exitFatal)
	}
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	started := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	r := report.Build(report.Input{
		RunID:       "run-42",
		StartedAt:   started,
		CompletedAt: started.Add(time.Second),
		Hash:        report.HashSettings{Mode: "sample"},
		Tables: []report.TableReport{
			{Table: "customers", Count: report.NewCountResult(3, 2)},
		},
	})
	if err := store.Record(r); err != nil {
		t.Fatal(err)
	}
	store.Close()

	t.Run("list", func(t *testing.T) {
		var buf bytes.Buffer
		app := newApp()
		app.Writer = &buf
		if err := app.Run([]string{"mmv", "history", "--history-db", path}); err != nil {
			t.Fatalf("app.Run() error: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, "run-42") || !strings.Contains(out, "MISMATCH") {
			t.Errorf("unexpected listing:\n%s", out)
		}
	})

	t.Run("show run", func(t *testing.T) {
		var buf bytes.Buffer
		app := newApp()
		app.Writer = &buf
		if err := app.Run([]string{"mmv", "history", "--history-db", path, "--run", "run-42"}); err != nil {
			t.Fatalf("app.Run() error: %v", err)
		}
		if !strings.Contains(buf.String(), "customers") {
			t.Errorf("report missing table:\n%s", buf.String())
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		app := newApp()
		app.Writer = new(bytes.Buffer)
		err := app.Run([]string{"mmv", "history", "--history-db", path, "--run", "nope"})
		if exitCode(err) != exitFatal {
			t.Errorf("exit code = %d, want %d", exitCode(err), exitFatal)
		}
	})

	t.Run("no database configured", func(t *testing.T) {
		app := newApp()
		app.Writer = new(bytes.Buffer)
		err := app.Run([]string{"mmv", "history"})
		if err == nil || !strings.Contains(err.Error(), "no history database") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
