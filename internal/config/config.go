package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ernie/herald/internal/domain"
	"github.com/ernie/herald/internal/duration"
)

// Config holds the application configuration.
type Config struct {
	Process      ProcessConfig      `yaml:"process"`
	HTTP         HTTPConfig         `yaml:"http"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Sideband     SidebandConfig     `yaml:"sideband"`
	Features     FeaturesConfig     `yaml:"features"`
	Interception InterceptionConfig `yaml:"interception"`
	Groups       GroupsConfig       `yaml:"groups"`
	// Messages maps group -> category -> subtype -> template(s).
	Messages      MessageTree       `yaml:"messages"`
	ServerAliases map[string]string `yaml:"server_aliases"`
}

// ProcessConfig identifies this process and its role.
type ProcessConfig struct {
	Name string `yaml:"name"`
	// Mode is auto, authority, follower, or standalone. Auto resolves to
	// authority when a sideband listener is configured, else standalone.
	Mode string `yaml:"mode"`
}

// HTTPConfig holds the status API / host bridge listener settings.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
	MaxPlayers int    `yaml:"max_players"`
}

// LedgerConfig selects and locates the player ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend"` // file | sqlite
	Path    string `yaml:"path"`
}

// SidebandConfig describes the follower -> authority notification channel.
type SidebandConfig struct {
	Transport     string `yaml:"transport"` // udp | nats
	ListenAddr    string `yaml:"listen_addr"`
	AuthorityAddr string `yaml:"authority_addr"`
	NATSURL       string `yaml:"nats_url"`
	Subject       string `yaml:"subject"`
	EmbedBroker   bool   `yaml:"embed_broker"`
}

// FeaturesConfig holds the per-category feature toggles.
type FeaturesConfig struct {
	Join         ToggleConfig  `yaml:"join"`
	Leave        ToggleConfig  `yaml:"leave"`
	ServerSwitch SwitchConfig  `yaml:"server_switch"`
	FirstJoin    ToggleConfig  `yaml:"first_join"`
	Welcome      WelcomeConfig `yaml:"welcome"`
}

// ToggleConfig is a plain on/off feature switch.
type ToggleConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// On reports the toggle state, defaulting to enabled when unset.
func (t ToggleConfig) On() bool {
	return t.Enabled == nil || *t.Enabled
}

// SwitchConfig controls server-switch announcements.
type SwitchConfig struct {
	Enabled   *bool `yaml:"enabled"`
	ShowToAll bool  `yaml:"show_to_all"`
}

// On reports the toggle state, defaulting to enabled when unset.
func (s SwitchConfig) On() bool {
	return s.Enabled == nil || *s.Enabled
}

// WelcomeConfig controls the delayed welcome message sent to the joining
// player only.
type WelcomeConfig struct {
	FirstTimeEnabled   *bool  `yaml:"first_time_enabled"`
	ReturningEnabled   *bool  `yaml:"returning_enabled"`
	DelayMillis        int    `yaml:"delay_ms"`
	ReturningThreshold string `yaml:"returning_threshold"`
}

// InterceptionConfig decides which default notifications get suppressed.
type InterceptionConfig struct {
	Join  *bool `yaml:"join"`
	Leave *bool `yaml:"leave"`
}

// SuppressJoin reports whether default join notifications are intercepted.
func (i InterceptionConfig) SuppressJoin() bool { return i.Join == nil || *i.Join }

// SuppressLeave reports whether default leave notifications are intercepted.
func (i InterceptionConfig) SuppressLeave() bool { return i.Leave == nil || *i.Leave }

// GroupsConfig holds the permission-group priority table.
type GroupsConfig struct {
	Priority map[string]int `yaml:"priority"`
}

// MessageTree is the raw template catalog: group -> category -> subtype.
type MessageTree map[string]map[string]map[string]StringList

// StringList accepts either a single YAML scalar or a sequence of scalars,
// so a template slot can hold one string or a list of random candidates.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}
		*l = StringList(ss)
		return nil
	default:
		return fmt.Errorf("message template must be a string or list of strings (line %d)", value.Line)
	}
}

const (
	defaultReturningThresholdSeconds = 86400
	defaultWelcomeDelayMillis        = 500
)

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Process.Name == "" {
		c.Process.Name, _ = os.Hostname()
	}
	if c.Process.Mode == "" {
		c.Process.Mode = "auto"
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.MaxPlayers == 0 {
		c.HTTP.MaxPlayers = 100
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "file"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "/var/lib/herald/players.json"
	}
	if c.Sideband.Transport == "" {
		c.Sideband.Transport = "udp"
	}
	if c.Sideband.Subject == "" {
		c.Sideband.Subject = "herald.sync"
	}
	if c.Sideband.NATSURL == "" {
		c.Sideband.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Features.Welcome.DelayMillis == 0 {
		c.Features.Welcome.DelayMillis = defaultWelcomeDelayMillis
	}
	if c.Groups.Priority == nil {
		c.Groups.Priority = map[string]int{}
	}
	// The default group always exists at priority 0.
	if _, ok := c.Groups.Priority["default"]; !ok {
		c.Groups.Priority["default"] = 0
	}
	if c.ServerAliases == nil {
		c.ServerAliases = map[string]string{}
	}
}

// ResolveMode determines the run mode from configuration plus topology
// detection. A process configured to receive relays is the network front and
// is corrected to authority regardless of any conflicting static setting.
func (c *Config) ResolveMode() (domain.RunMode, error) {
	hasListener := c.Sideband.ListenAddr != ""

	switch c.Process.Mode {
	case "auto", "":
		if hasListener {
			return domain.Authority, nil
		}
		return domain.Standalone, nil
	case "authority", "proxy":
		return domain.Authority, nil
	case "follower", "backend":
		if hasListener {
			return domain.Authority, nil
		}
		if c.Sideband.AuthorityAddr == "" && c.Sideband.Transport == "udp" {
			return "", fmt.Errorf("follower mode requires sideband.authority_addr")
		}
		return domain.Follower, nil
	case "standalone":
		if hasListener {
			return domain.Authority, nil
		}
		return domain.Standalone, nil
	default:
		return "", fmt.Errorf("unknown mode %q (use auto, authority, follower, or standalone)", c.Process.Mode)
	}
}

// ReturningThresholdSeconds parses the configured returning threshold,
// falling back to 24 hours when unset or unparseable.
func (c *Config) ReturningThresholdSeconds() int64 {
	if s := duration.ParseSeconds(c.Features.Welcome.ReturningThreshold); s > 0 {
		return s
	}
	return defaultReturningThresholdSeconds
}

// WelcomeDelay returns the welcome-message delay as a time.Duration.
func (c *Config) WelcomeDelay() time.Duration {
	return time.Duration(c.Features.Welcome.DelayMillis) * time.Millisecond
}

// Alias maps a raw process/server name to its configured display name,
// returning the raw name when no alias exists.
func (c *Config) Alias(name string) string {
	if alias, ok := c.ServerAliases[name]; ok && alias != "" {
		return alias
	}
	return name
}

// WelcomeEnabled reports whether the welcome message for the given subtype
// is switched on.
func (c *Config) WelcomeEnabled(subtype string) bool {
	switch subtype {
	case domain.SubtypeFirstTime:
		return c.Features.Welcome.FirstTimeEnabled == nil || *c.Features.Welcome.FirstTimeEnabled
	case domain.SubtypeReturning:
		return c.Features.Welcome.ReturningEnabled == nil || *c.Features.Welcome.ReturningEnabled
	}
	return false
}

// Save writes cfg to path as YAML, for bootstrapping a starter config.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
