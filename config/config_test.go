package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

type testConfig struct {
	ServiceConfig `mapstructure:",squash"`
	Database      struct {
		DSN          string `mapstructure:"dsn"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
	} `mapstructure:"database"`
}

func TestServiceConfig_Defaults(t *testing.T) {
	var cfg ServiceConfig
	cfg.ApplyDefaults()
	if cfg.Name != "taskflow" {
		t.Errorf("expected name taskflow, got %q", cfg.Name)
	}
	if cfg.Environment != "development" || !cfg.Debug {
		t.Errorf("expected development with debug, got %q debug=%v", cfg.Environment, cfg.Debug)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestServiceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr bool
	}{
		{"missing name", ServiceConfig{Environment: "production"}, true},
		{"bad environment", ServiceConfig{Name: "svc", Environment: "qa"}, true},
		{"production", ServiceConfig{Name: "svc", Environment: "production"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logging.ApplyDefaults()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yml := "name: taskflow\nenvironment: staging\ndatabase:\n  dsn: file.db\n  max_open_conns: 4\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKFLOW_DATABASE_DSN", "env.db")

	var cfg testConfig
	if err := LoadConfig("taskflow", &cfg, WithConfigFile(path), WithEnvFile(filepath.Join(dir, "missing.env"))); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("expected staging, got %q", cfg.Environment)
	}
	if cfg.Database.DSN != "env.db" {
		t.Errorf("expected env override env.db, got %q", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 4 {
		t.Errorf("expected max_open_conns 4, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoadConfig_SnakeCaseLeafFromEnv(t *testing.T) {
	t.Setenv("TASKFLOW_DATABASE_MAX_OPEN_CONNS", "9")
	var cfg testConfig
	if err := LoadConfig("taskflow", &cfg, WithFileSystem(emptyFS{})); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.MaxOpenConns != 9 {
		t.Errorf("expected 9, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestEnvKeyVariants(t *testing.T) {
	got := envKeyVariants("DATABASE_MAX_OPEN_CONNS")
	for _, want := range []string{"database.max_open_conns", "database.max.open.conns"} {
		if !slices.Contains(got, want) {
			t.Errorf("expected variant %q in %v", want, got)
		}
	}
}

type emptyFS struct{}

func (emptyFS) Exists(string) bool    { return false }
func (emptyFS) LoadEnv(string) error { return nil }
