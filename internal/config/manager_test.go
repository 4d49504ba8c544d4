package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleConfig = `
telegram:
  token: "123:abc"
logging:
  level: debug
  console: true
storage:
  path: ./lookout.db
  busy_timeout: 5s
sources:
  twitch:
    enabled: true
    interval: 45s
  youtube:
    enabled: true
  x:
    enabled: false
notify:
  rate_per_sec: 10
`

func TestLoadSample(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.Sources.Twitch.Enabled || cfg.Sources.Twitch.Interval != "45s" {
		t.Fatalf("twitch = %+v", cfg.Sources.Twitch)
	}
	if cfg.Sources.X.Enabled {
		t.Fatal("x should be disabled")
	}
	if cfg.Notify.RatePerSec != 10 {
		t.Fatalf("rate = %d", cfg.Notify.RatePerSec)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed snapshot")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "sources:\n  twtich:\n    enabled: true\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "telegram: [unclosed"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPollIntervalFloors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		def     time.Duration
		floor   time.Duration
		want    time.Duration
		wantErr bool
	}{
		{name: "empty uses default", raw: "", def: time.Minute, floor: 30 * time.Second, want: time.Minute},
		{name: "explicit above floor", raw: "45s", def: time.Minute, floor: 30 * time.Second, want: 45 * time.Second},
		{name: "at floor", raw: "30s", def: time.Minute, floor: 30 * time.Second, want: 30 * time.Second},
		{name: "below floor rejected", raw: "5s", def: time.Minute, floor: 30 * time.Second, wantErr: true},
		{name: "garbage rejected", raw: "soon", def: time.Minute, floor: 30 * time.Second, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := PollInterval("sources.test.interval", tt.raw, tt.def, tt.floor)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("PollInterval: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{Notify: NotifyConfig{RatePerSec: 9}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("expected the newest config to win")
		}
	default:
		t.Fatal("expected a pending config")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if _, err := ParseDurationField("k", "10m"); err != nil {
		t.Fatalf("valid duration: %v", err)
	}
	_, err := ParseDurationField("sources.x.interval", "ten minutes")
	if err == nil {
		t.Fatal("expected error")
	}
	// The error names the offending key so operators can find it.
	if !strings.Contains(err.Error(), "sources.x.interval") {
		t.Fatalf("error %q does not name the key", err)
	}
}
