package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/defi-tokens/internal/model"
	"github.com/ggonzalez94/defi-tokens/internal/registry"
)

const envPrefix = "DEFI_TOKENS_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Strict         bool
	Timeout        string
	Retries        int
	Chain          string
	RPCURL         string
	LogLevel       string
	LogFormat      string
	NoCache        bool
}

// BindFlags registers the persistent flags shared by every command.
func BindFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&flags.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&flags.Plain, "plain", false, "Output plain text")
	fs.StringVar(&flags.Select, "select", "", "Select fields from data (comma-separated)")
	fs.BoolVar(&flags.ResultsOnly, "results-only", false, "Output only data payload")
	fs.StringVar(&flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	fs.BoolVar(&flags.Strict, "strict", false, "Fail on partial results")
	fs.StringVar(&flags.Timeout, "timeout", "", "Provider request timeout (e.g. 10s)")
	fs.IntVar(&flags.Retries, "retries", -1, "Retries per provider request")
	fs.StringVar(&flags.Chain, "chain", "", "Network (ethereum, fantom, arbitrum, fork, eip155:<id> or numeric id)")
	fs.StringVar(&flags.RPCURL, "rpc-url", "", "Override the network RPC endpoint")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&flags.LogFormat, "log-format", "", "Log format (json or console)")
	fs.BoolVar(&flags.NoCache, "no-cache", false, "Disable result caching")
}

type AggregatorSettings struct {
	BaseURL  string
	APIKey   string
	Protocol string
	RPS      float64
}

type PartnerSettings struct {
	ID      string
	Address string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	Strict          bool
	Timeout         time.Duration
	Retries         int
	Chain           string
	RPCURL          string
	LogLevel        string
	LogFormat       string
	CacheEnabled    bool
	TokensTTL       time.Duration
	MarketsTTL      time.Duration
	IconsTTL        time.Duration
	Aggregator      AggregatorSettings
	TokenListURL    string
	MetadataURL     string
	Partner         PartnerSettings
	Contracts       map[int64]registry.Contracts
	Networks        map[int64][]model.DataSource
	JournalPath     string
	JournalLockPath string
	ListenAddr      string
}

// ContractsFor returns configured deployments for chainID, filled in from
// the built-in defaults.
func (s Settings) ContractsFor(chainID int64) registry.Contracts {
	return s.Contracts[chainID].Merge(registry.DefaultContracts(chainID))
}

type contractsConfig struct {
	VaultRegistry string `yaml:"vault_registry"`
	MarketLens    string `yaml:"market_lens"`
	Router        string `yaml:"router"`
	Oracle        string `yaml:"oracle"`
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Strict  *bool  `yaml:"strict"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Chain   string `yaml:"chain"`
	RPCURL  string `yaml:"rpc_url"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Cache struct {
		Enabled    *bool  `yaml:"enabled"`
		TokensTTL  string `yaml:"tokens_ttl"`
		MarketsTTL string `yaml:"markets_ttl"`
		IconsTTL   string `yaml:"icons_ttl"`
	} `yaml:"cache"`
	Aggregator struct {
		BaseURL   string   `yaml:"base_url"`
		APIKey    string   `yaml:"api_key"`
		APIKeyEnv string   `yaml:"api_key_env"`
		Protocol  string   `yaml:"protocol"`
		RPS       *float64 `yaml:"requests_per_second"`
	} `yaml:"aggregator"`
	TokenListURL string `yaml:"token_list_url"`
	MetadataURL  string `yaml:"token_metadata_url"`
	Partner      struct {
		ID      string `yaml:"id"`
		Address string `yaml:"address"`
	} `yaml:"partner"`
	Contracts map[int64]contractsConfig `yaml:"contracts"`
	Networks  map[int64][]string        `yaml:"networks"`
	Journal   struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
	Serve struct {
		Listen string `yaml:"listen"`
	} `yaml:"serve"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.Aggregator.RPS < 0 {
		settings.Aggregator.RPS = 0
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	journalPath, lockPath, err := defaultJournalPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:   "json",
		Timeout:      10 * time.Second,
		Retries:      2,
		Chain:        "ethereum",
		LogLevel:     "info",
		LogFormat:    "json",
		CacheEnabled: true,
		TokensTTL:    5 * time.Minute,
		MarketsTTL:   time.Minute,
		IconsTTL:     time.Hour,
		Aggregator: AggregatorSettings{
			BaseURL:  registry.AggregatorBaseURL,
			APIKey:   os.Getenv(registry.AggregatorAPIKeyEnv),
			Protocol: "yearn",
			RPS:      5,
		},
		TokenListURL:    registry.TokenListURL,
		MetadataURL:     registry.TokenMetadataURL,
		Contracts:       map[int64]registry.Contracts{},
		JournalPath:     journalPath,
		JournalLockPath: lockPath,
		ListenAddr:      "127.0.0.1:8787",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "defi-tokens", "config.yaml"), nil
}

func defaultJournalPaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "defi-tokens")
	return filepath.Join(dir, "submissions.db"), filepath.Join(dir, "submissions.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Strict != nil {
		settings.Strict = *cfg.Strict
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Chain != "" {
		settings.Chain = cfg.Chain
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	for _, ttl := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"cache.tokens_ttl", cfg.Cache.TokensTTL, &settings.TokensTTL},
		{"cache.markets_ttl", cfg.Cache.MarketsTTL, &settings.MarketsTTL},
		{"cache.icons_ttl", cfg.Cache.IconsTTL, &settings.IconsTTL},
	} {
		if ttl.raw == "" {
			continue
		}
		d, err := time.ParseDuration(ttl.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", ttl.name, err)
		}
		*ttl.dst = d
	}
	if cfg.Aggregator.BaseURL != "" {
		settings.Aggregator.BaseURL = cfg.Aggregator.BaseURL
	}
	if cfg.Aggregator.APIKey != "" {
		settings.Aggregator.APIKey = cfg.Aggregator.APIKey
	}
	if cfg.Aggregator.APIKeyEnv != "" {
		settings.Aggregator.APIKey = os.Getenv(cfg.Aggregator.APIKeyEnv)
	}
	if cfg.Aggregator.Protocol != "" {
		settings.Aggregator.Protocol = cfg.Aggregator.Protocol
	}
	if cfg.Aggregator.RPS != nil {
		settings.Aggregator.RPS = *cfg.Aggregator.RPS
	}
	if cfg.TokenListURL != "" {
		settings.TokenListURL = cfg.TokenListURL
	}
	if cfg.MetadataURL != "" {
		settings.MetadataURL = cfg.MetadataURL
	}
	if cfg.Partner.ID != "" {
		settings.Partner.ID = cfg.Partner.ID
	}
	if cfg.Partner.Address != "" {
		settings.Partner.Address = cfg.Partner.Address
	}
	for chainID, c := range cfg.Contracts {
		settings.Contracts[chainID] = registry.Contracts{
			VaultRegistry: c.VaultRegistry,
			MarketLens:    c.MarketLens,
			Router:        c.Router,
			Oracle:        c.Oracle,
		}
	}
	if len(cfg.Networks) > 0 {
		settings.Networks = make(map[int64][]model.DataSource, len(cfg.Networks))
		for chainID, kinds := range cfg.Networks {
			list := make([]model.DataSource, 0, len(kinds))
			for _, k := range kinds {
				kind := model.DataSource(strings.TrimSpace(k))
				if !kind.Valid() {
					return fmt.Errorf("config networks.%d: unknown provider kind %q", chainID, k)
				}
				list = append(list, kind)
			}
			settings.Networks[chainID] = list
		}
	}
	if cfg.Journal.Path != "" {
		settings.JournalPath = cfg.Journal.Path
	}
	if cfg.Journal.LockPath != "" {
		settings.JournalLockPath = cfg.Journal.LockPath
	}
	if cfg.Serve.Listen != "" {
		settings.ListenAddr = cfg.Serve.Listen
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := getenv("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := getenv("STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Strict = b
		}
	}
	if v := getenv("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := getenv("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := getenv("CHAIN"); v != "" {
		settings.Chain = v
	}
	if v := getenv("RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		settings.LogFormat = v
	}
	if v := getenv("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := getenv("TOKENS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.TokensTTL = d
		}
	}
	if v := getenv("AGGREGATOR_URL"); v != "" {
		settings.Aggregator.BaseURL = v
	}
	if v := os.Getenv(registry.AggregatorAPIKeyEnv); v != "" {
		settings.Aggregator.APIKey = v
	}
	if v := getenv("AGGREGATOR_PROTOCOL"); v != "" {
		settings.Aggregator.Protocol = v
	}
	if v := getenv("PARTNER_ID"); v != "" {
		settings.Partner.ID = v
	}
	if v := getenv("PARTNER_ADDRESS"); v != "" {
		settings.Partner.Address = v
	}
	if v := getenv("JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := getenv("JOURNAL_LOCK_PATH"); v != "" {
		settings.JournalLockPath = v
	}
	if v := getenv("LISTEN_ADDR"); v != "" {
		settings.ListenAddr = v
	}
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}

	if flags.Strict {
		settings.Strict = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if strings.TrimSpace(flags.Chain) != "" {
		settings.Chain = strings.TrimSpace(flags.Chain)
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = flags.LogFormat
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
