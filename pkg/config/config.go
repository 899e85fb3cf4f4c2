package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"oplstream/pkg/format"
	"oplstream/pkg/protocol"
)

const DefaultConfigPath = "oplstream.toml"

type Config struct {
	Link        LinkConfig        `toml:"link"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	IMF         IMFConfig         `toml:"imf"`
	VGM         VGMConfig         `toml:"vgm"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Journal     JournalConfig     `toml:"journal"`
	Status      StatusConfig      `toml:"status"`
	configPath  string            `toml:"-"`
}

type LinkConfig struct {
	Port       string `toml:"port"`
	Baud       int    `toml:"baud"`
	Generation string `toml:"generation"`
	// Width 0 selects the generation's native command width.
	Width       int    `toml:"width"`
	Window      int    `toml:"window"`
	ResetSweep  bool   `toml:"reset_sweep"`
	DialTimeout string `toml:"dial_timeout"`
}

type DiagnosticsConfig struct {
	Slack  string `toml:"slack"`
	Warmup string `toml:"warmup"`
}

type IMFConfig struct {
	Default     int            `toml:"default"`
	Frequencies map[string]int `toml:"frequencies"`
}

type VGMConfig struct {
	Strict bool `toml:"strict"`
}

type MonitorConfig struct {
	Enabled  bool   `toml:"enabled"`
	WSAddr   string `toml:"ws_addr"`
	Interval string `toml:"interval"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

type StatusConfig struct {
	// Mode is "auto", "tui", "plain" or "off".
	Mode string `toml:"mode"`
}

func Default() Config {
	table := format.DefaultFrequencies()
	return Config{
		Link: LinkConfig{
			Port:        "/dev/ttyUSB0",
			Baud:        protocol.DefaultBaud,
			Generation:  protocol.Legacy.String(),
			Window:      protocol.DefaultWindow,
			DialTimeout: "5s",
		},
		Diagnostics: DiagnosticsConfig{
			Slack:  "20ms",
			Warmup: "1s",
		},
		IMF: IMFConfig{
			Default:     table.Default,
			Frequencies: table.Names,
		},
		Monitor: MonitorConfig{
			WSAddr:   "127.0.0.1:8766",
			Interval: "100ms",
		},
		Status: StatusConfig{
			Mode: "auto",
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path, falling back to Default when the file does not
// exist. The boolean reports whether the file was found.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	// Tables in the file replace the defaults rather than merging into them.
	cfg.IMF.Frequencies = nil
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	if _, err := protocol.ParseGeneration(cfg.Link.Generation); err != nil {
		return fmt.Errorf("link.generation: %w", err)
	}
	if cfg.Link.Width != 0 {
		if _, err := protocol.ParseWidth(cfg.Link.Width); err != nil {
			return fmt.Errorf("link.width: %w", err)
		}
	}
	if cfg.Link.Baud <= 0 {
		return fmt.Errorf("link.baud must be positive: %d", cfg.Link.Baud)
	}
	if cfg.Link.Window <= 0 {
		return fmt.Errorf("link.window must be positive: %d", cfg.Link.Window)
	}
	if _, err := parseDuration("link.dial_timeout", cfg.Link.DialTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("diagnostics.slack", cfg.Diagnostics.Slack); err != nil {
		return err
	}
	if _, err := parseDuration("diagnostics.warmup", cfg.Diagnostics.Warmup); err != nil {
		return err
	}
	if _, err := parseDuration("monitor.interval", cfg.Monitor.Interval); err != nil {
		return err
	}
	if cfg.IMF.Default <= 0 {
		return fmt.Errorf("imf.default must be positive: %d", cfg.IMF.Default)
	}
	for name, hz := range cfg.IMF.Frequencies {
		if hz <= 0 {
			return fmt.Errorf("imf.frequencies.%s must be positive: %d", name, hz)
		}
	}
	switch cfg.Status.Mode {
	case "auto", "tui", "plain", "off":
	default:
		return fmt.Errorf("status.mode must be auto, tui, plain or off: %q", cfg.Status.Mode)
	}
	return nil
}

func (cfg *Config) normalize(path string) {
	def := Default()

	if cfg.Link.Port == "" {
		cfg.Link.Port = def.Link.Port
	}
	if cfg.Link.Baud <= 0 {
		cfg.Link.Baud = def.Link.Baud
	}
	cfg.Link.Generation = strings.ToLower(strings.TrimSpace(cfg.Link.Generation))
	if cfg.Link.Generation == "" {
		cfg.Link.Generation = def.Link.Generation
	}
	if cfg.Link.Window <= 0 {
		cfg.Link.Window = def.Link.Window
	}
	if cfg.Link.DialTimeout == "" {
		cfg.Link.DialTimeout = def.Link.DialTimeout
	}

	if cfg.Diagnostics.Slack == "" {
		cfg.Diagnostics.Slack = def.Diagnostics.Slack
	}
	if cfg.Diagnostics.Warmup == "" {
		cfg.Diagnostics.Warmup = def.Diagnostics.Warmup
	}

	if cfg.IMF.Default <= 0 {
		cfg.IMF.Default = def.IMF.Default
	}
	if len(cfg.IMF.Frequencies) == 0 {
		cfg.IMF.Frequencies = def.IMF.Frequencies
	}
	lowered := make(map[string]int, len(cfg.IMF.Frequencies))
	for name, hz := range cfg.IMF.Frequencies {
		lowered[strings.ToLower(strings.TrimSpace(name))] = hz
	}
	cfg.IMF.Frequencies = lowered

	if cfg.Monitor.WSAddr == "" {
		cfg.Monitor.WSAddr = def.Monitor.WSAddr
	}
	if cfg.Monitor.Interval == "" {
		cfg.Monitor.Interval = def.Monitor.Interval
	}
	cfg.Status.Mode = strings.ToLower(strings.TrimSpace(cfg.Status.Mode))
	if cfg.Status.Mode == "" {
		cfg.Status.Mode = def.Status.Mode
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path
}

// JournalPath resolves journal.path relative to the config file. It is
// empty when no journal is configured.
func (cfg *Config) JournalPath() string {
	p := cfg.Journal.Path
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(cfg.configPath), p)
}

// LinkGeneration returns the parsed generation. The config must be valid.
func (cfg *Config) LinkGeneration() protocol.Generation {
	gen, _ := protocol.ParseGeneration(cfg.Link.Generation)
	return gen
}

// LinkWidth returns the configured command width, or the generation's
// default when none is set.
func (cfg *Config) LinkWidth() protocol.Width {
	if cfg.Link.Width == 0 {
		return cfg.LinkGeneration().DefaultWidth()
	}
	return protocol.Width(cfg.Link.Width)
}

func (cfg *Config) Slack() time.Duration {
	d, _ := parseDuration("", cfg.Diagnostics.Slack)
	return d
}

func (cfg *Config) Warmup() time.Duration {
	d, _ := parseDuration("", cfg.Diagnostics.Warmup)
	return d
}

func (cfg *Config) DialTimeout() time.Duration {
	d, _ := parseDuration("", cfg.Link.DialTimeout)
	return d
}

func (cfg *Config) MonitorInterval() time.Duration {
	d, _ := parseDuration("", cfg.Monitor.Interval)
	return d
}

// FrequencyTable returns the IMF playback rates as a lookup table.
func (cfg *Config) FrequencyTable() format.FrequencyTable {
	names := make(map[string]int, len(cfg.IMF.Frequencies))
	for k, v := range cfg.IMF.Frequencies {
		names[k] = v
	}
	return format.FrequencyTable{Default: cfg.IMF.Default, Names: names}
}

func parseDuration(key string, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative: %s", key, value)
	}
	return d, nil
}
