package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
operator:
  actor_id: hunter
economics:
  hourly_target: 120
buy_box:
  min_ev: 75
  min_win_probability: 0.5
  max_time_to_first_green_minutes: 45
  min_maintainer_score: 6
  max_competing_prs: 1
profiles:
  rules_ttl_days: 7
  style_ttl_days: 30
  overrides:
    acme/widgets:
      rules_ttl_days: 1
competition:
  poll_interval_minutes: 15
  max_poll_runs: 8
forge:
  base_url: https://api.github.com
  token_env: GITHUB_TOKEN
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Operator.ActorID != "hunter" {
		t.Fatalf("ActorID = %q", cfg.Operator.ActorID)
	}
	if cfg.BuyBox.MinEV != 75 {
		t.Fatalf("MinEV = %v", cfg.BuyBox.MinEV)
	}
	if got := cfg.RulesTTL("acme/widgets"); got != 24*time.Hour {
		t.Fatalf("override RulesTTL = %v", got)
	}
	if got := cfg.RulesTTL("other/repo"); got != 7*24*time.Hour {
		t.Fatalf("default RulesTTL = %v", got)
	}
	if got := cfg.StyleTTL("acme/widgets"); got != 30*24*time.Hour {
		t.Fatalf("StyleTTL without override = %v", got)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero hourly target", func(c *Config) { c.Economics.HourlyTarget = 0 }, "hourly_target"},
		{"win probability above one", func(c *Config) { c.BuyBox.MinWinProbability = 1.5 }, "min_win_probability"},
		{"negative competing PRs", func(c *Config) { c.BuyBox.MaxCompetingPRs = -1 }, "max_competing_prs"},
		{"zero rules ttl", func(c *Config) { c.Profiles.RulesTTLDays = 0 }, "rules_ttl_days"},
		{"zero poll interval", func(c *Config) { c.Competition.PollIntervalMinutes = 0 }, "poll_interval_minutes"},
		{"strict notify without webhook", func(c *Config) { c.Notify.Strict = true }, "webhook_url"},
		{"missing forge base url", func(c *Config) { c.Forge.BaseURL = "" }, "base_url"},
		{"negative override ttl", func(c *Config) {
			c.Profiles.Overrides = map[string]ProfileTTL{"acme/widgets": {RulesTTLDays: -1}}
		}, "overrides"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("validation passed")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Notify.WebhookURL = "https://hooks.example.com/bounty"
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromYAML(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.Notify.WebhookURL != cfg.Notify.WebhookURL {
		t.Fatal("webhook url lost in round trip")
	}
	if back.BuyBox != cfg.BuyBox {
		t.Fatalf("buy box drifted: %+v vs %+v", back.BuyBox, cfg.BuyBox)
	}
}
