package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artpar/entitygate/config"
	"github.com/rs/zerolog"
)

func TestHolder_Get(t *testing.T) {
	cfg := writeConfig(t, validConfig())

	h, err := config.NewHolder(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Database.Driver != "memory" {
		t.Errorf("Database.Driver = %s, want memory", got.Database.Driver)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if h.Get().Logging.Level != "info" {
		t.Errorf("initial level = %s, want info", h.Get().Logging.Level)
	}

	newContent := `
database:
  driver: memory
logging:
  level: debug
auth:
  api_keys:
    - name: ops
      hash: "$2a$04$abcdefghijklmnopqrstuu5Yk1Zl4RZ0vAxqH0qfGfWvYb8u3G2a2"
      subject: ops-bot
      role: admin
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	cfg := h.Get()
	if cfg.Logging.Level != "debug" {
		t.Errorf("reloaded level = %s, want debug", cfg.Logging.Level)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].Subject != "ops-bot" {
		t.Errorf("reloaded api keys = %+v", cfg.Auth.APIKeys)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var called bool
	var receivedCfg *config.Config

	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		called = true
		receivedCfg = cfg
		mu.Unlock()
	})

	newContent := `
database:
  driver: memory
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !called {
		t.Error("OnChange callback was not called")
	}
	if receivedCfg == nil {
		t.Error("received nil config in callback")
	} else if receivedCfg.Logging.Level != "warn" {
		t.Errorf("callback received level = %s, want warn", receivedCfg.Logging.Level)
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var failures int
	h.OnError(func(error) { failures++ })

	invalidContent := `
database:
  driver: postgres
`
	if err := os.WriteFile(path, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}

	if got := h.Get().Database.Driver; got != "memory" {
		t.Errorf("should keep old config, got Database.Driver = %s", got)
	}
	if failures != 1 {
		t.Errorf("OnError called %d times, want 1", failures)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	newContent := `
database:
  driver: memory
logging:
  level: error
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	// Editors and the kernel may deliver several events; wait for the last one.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h.Get().Logging.Level == "error" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("after file watch, level = %s, want error", h.Get().Logging.Level)
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}

	wg.Wait()
}

func TestDiff(t *testing.T) {
	prev := &config.Config{}
	prev.Logging.Level = "info"
	prev.Server.Port = 8080

	next := *prev
	next.Logging.Level = "debug"
	next.Server.Port = 9090
	next.Auth.APIKeys = []config.APIKeyConfig{{Name: "ci"}}

	live, restart := config.Diff(prev, &next)
	if len(live) != 2 || !contains(live, "logging.level") || !contains(live, "auth.api_keys") {
		t.Errorf("live = %v, want logging.level and auth.api_keys", live)
	}
	if len(restart) != 1 || restart[0] != "server" {
		t.Errorf("restart = %v, want [server]", restart)
	}

	live, restart = config.Diff(prev, prev)
	if len(live) != 0 || len(restart) != 0 {
		t.Errorf("Diff of equal configs = %v, %v", live, restart)
	}
}

func TestHolder_StopTwice(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	h.WatchSignals()
	h.Stop()
	h.Stop()
}

// Helpers

func validConfig() string {
	return `
database:
  driver: memory

collections:
  dir: ./collections
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
