package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models bountyline.yml. It carries the buy-box thresholds, the
// economics used by EV scoring, profile freshness policy, and the
// collaborator settings. Stored in the workspace DB once imported.
type Config struct {
	Operator struct {
		ActorID string `yaml:"actor_id" json:"actor_id"`
	} `yaml:"operator" json:"operator"`
	Economics struct {
		HourlyTarget float64 `yaml:"hourly_target" json:"hourly_target"`
	} `yaml:"economics" json:"economics"`
	BuyBox struct {
		MinEV                  float64 `yaml:"min_ev" json:"min_ev"`
		MinWinProbability      float64 `yaml:"min_win_probability" json:"min_win_probability"`
		MaxTimeToFirstGreenMin int     `yaml:"max_time_to_first_green_minutes" json:"max_time_to_first_green_minutes"`
		MinMaintainerScore     float64 `yaml:"min_maintainer_score" json:"min_maintainer_score"`
		MaxCompetingPRs        int     `yaml:"max_competing_prs" json:"max_competing_prs"`
	} `yaml:"buy_box" json:"buy_box"`
	Profiles struct {
		RulesTTLDays int                   `yaml:"rules_ttl_days" json:"rules_ttl_days"`
		StyleTTLDays int                   `yaml:"style_ttl_days" json:"style_ttl_days"`
		Overrides    map[string]ProfileTTL `yaml:"overrides,omitempty" json:"overrides,omitempty"`
	} `yaml:"profiles" json:"profiles"`
	Competition struct {
		PollIntervalMinutes int `yaml:"poll_interval_minutes" json:"poll_interval_minutes"`
		MaxPollRuns         int `yaml:"max_poll_runs" json:"max_poll_runs"`
	} `yaml:"competition" json:"competition"`
	Notify struct {
		WebhookURL string `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
		Strict     bool   `yaml:"strict" json:"strict"`
	} `yaml:"notify" json:"notify"`
	Forge struct {
		BaseURL  string `yaml:"base_url" json:"base_url"`
		TokenEnv string `yaml:"token_env" json:"token_env"`
	} `yaml:"forge" json:"forge"`
	Evidence struct {
		Dir string `yaml:"dir" json:"dir"`
	} `yaml:"evidence" json:"evidence"`
}

// ProfileTTL overrides freshness policy for a single repository.
type ProfileTTL struct {
	RulesTTLDays int `yaml:"rules_ttl_days,omitempty" json:"rules_ttl_days,omitempty"`
	StyleTTLDays int `yaml:"style_ttl_days,omitempty" json:"style_ttl_days,omitempty"`
}

// Default returns the seed config for a fresh workspace.
func Default() *Config {
	c := &Config{}
	c.Operator.ActorID = "local-user"
	c.Economics.HourlyTarget = 100
	c.BuyBox.MinEV = 50
	c.BuyBox.MinWinProbability = 0.4
	c.BuyBox.MaxTimeToFirstGreenMin = 60
	c.BuyBox.MinMaintainerScore = 5
	c.BuyBox.MaxCompetingPRs = 2
	c.Profiles.RulesTTLDays = 7
	c.Profiles.StyleTTLDays = 30
	c.Competition.PollIntervalMinutes = 30
	c.Competition.MaxPollRuns = 16
	c.Forge.BaseURL = "https://api.github.com"
	c.Forge.TokenEnv = "GITHUB_TOKEN"
	c.Evidence.Dir = "evidence"
	return c
}

// Load reads and validates config from a yaml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToYAML serializes the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Economics.HourlyTarget <= 0 {
		return fmt.Errorf("config.economics.hourly_target must be positive")
	}
	if c.BuyBox.MinWinProbability < 0 || c.BuyBox.MinWinProbability > 1 {
		return fmt.Errorf("config.buy_box.min_win_probability must be within [0,1]")
	}
	if c.BuyBox.MaxCompetingPRs < 0 {
		return fmt.Errorf("config.buy_box.max_competing_prs must not be negative")
	}
	if c.Profiles.RulesTTLDays <= 0 {
		return fmt.Errorf("config.profiles.rules_ttl_days must be positive")
	}
	if c.Profiles.StyleTTLDays <= 0 {
		return fmt.Errorf("config.profiles.style_ttl_days must be positive")
	}
	for repo, o := range c.Profiles.Overrides {
		if repo == "" {
			return fmt.Errorf("config.profiles.overrides contains empty repo key")
		}
		if o.RulesTTLDays < 0 || o.StyleTTLDays < 0 {
			return fmt.Errorf("config.profiles.overrides[%s] has negative ttl", repo)
		}
	}
	if c.Competition.PollIntervalMinutes <= 0 {
		return fmt.Errorf("config.competition.poll_interval_minutes must be positive")
	}
	if c.Competition.MaxPollRuns <= 0 {
		return fmt.Errorf("config.competition.max_poll_runs must be positive")
	}
	if c.Notify.Strict && c.Notify.WebhookURL == "" {
		return fmt.Errorf("config.notify.strict requires webhook_url")
	}
	if c.Forge.BaseURL == "" {
		return fmt.Errorf("config.forge.base_url is required")
	}
	return nil
}

// RulesTTL returns the rules freshness bound for a repository.
func (c *Config) RulesTTL(repo string) time.Duration {
	days := c.Profiles.RulesTTLDays
	if o, ok := c.Profiles.Overrides[repo]; ok && o.RulesTTLDays > 0 {
		days = o.RulesTTLDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// StyleTTL returns the style freshness bound for a repository.
func (c *Config) StyleTTL(repo string) time.Duration {
	days := c.Profiles.StyleTTLDays
	if o, ok := c.Profiles.Overrides[repo]; ok && o.StyleTTLDays > 0 {
		days = o.StyleTTLDays
	}
	return time.Duration(days) * 24 * time.Hour
}
