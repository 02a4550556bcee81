package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/transfer"
)

type Config struct {
	Transfer    TransferConfig     `mapstructure:"transfer" validate:"required"`
	Hosts       []HostConfig       `mapstructure:"hosts" validate:"dive"`
	Paths       PathsConfig        `mapstructure:"paths" validate:"required"`
	Deploy      DeployConfig       `mapstructure:"deploy"`
	Collections []CollectionConfig `mapstructure:"collections" validate:"dive"`
	Redis       RedisConfig        `mapstructure:"redis" validate:"required"`
	Daemon      DaemonConfig       `mapstructure:"daemon" validate:"required"`
	Publish     PublishConfig      `mapstructure:"publish" validate:"required"`
	HTTP        HTTPConfig         `mapstructure:"http" validate:"required"`
	Hook        HookConfig         `mapstructure:"hook"`
	Archive     ArchiveConfig      `mapstructure:"archive"`
}

type TransferConfig struct {
	MaxConcurrent       int  `mapstructure:"max_concurrent" validate:"min=1,max=64"`
	TimeoutSeconds      int  `mapstructure:"timeout_seconds" validate:"min=1,max=3600"`
	RetryAttempts       int  `mapstructure:"retry_attempts" validate:"min=1,max=10"`
	ConnectRetryDelayMs int  `mapstructure:"connect_retry_delay_ms" validate:"min=0,max=60000"`
	FileRetryDelayMs    int  `mapstructure:"file_retry_delay_ms" validate:"min=0,max=60000"`
	ExponentialBackoff  bool `mapstructure:"exponential_backoff"`
	ProgressBuffer      int  `mapstructure:"progress_buffer" validate:"min=1,max=65536"`
}

// HostConfig is one [[hosts]] entry. Required connection fields are not
// enforced here; incomplete hosts are reported by InvalidHosts and rejected
// when a run selects them.
type HostConfig struct {
	Region      string `mapstructure:"region"`
	Hostname    string `mapstructure:"hostname"`
	Address     string `mapstructure:"address"`
	Port        int    `mapstructure:"port" validate:"min=0,max=65535"`
	Username    string `mapstructure:"username"`
	Secret      string `mapstructure:"secret"`
	Enabled     *bool  `mapstructure:"enabled"`
	Protocol    string `mapstructure:"protocol" validate:"omitempty,oneof=ftp sftp"`
	Description string `mapstructure:"description"`
}

type PathsConfig struct {
	LocalSyncPath string `mapstructure:"local_sync_path" validate:"required"`
	LocalLogsPath string `mapstructure:"local_logs_path" validate:"required"`
}

type DeployConfig struct {
	Sets  []DeploySetConfig  `mapstructure:"sets" validate:"dive"`
	Files []DeployFileConfig `mapstructure:"files" validate:"dive"`
}

// DeploySetConfig scans LocalDir (relative to paths.local_sync_path) for
// Pattern. A set without LocalDir only groups static files.
type DeploySetConfig struct {
	Name      string `mapstructure:"name" validate:"required"`
	LocalDir  string `mapstructure:"local_dir"`
	RemoteDir string `mapstructure:"remote_dir" validate:"required_with=LocalDir"`
	Pattern   string `mapstructure:"pattern"`
	Recursive bool   `mapstructure:"recursive"`
	Enabled   bool   `mapstructure:"enabled"`
}

type DeployFileConfig struct {
	Local  string `mapstructure:"local" validate:"required"`
	Remote string `mapstructure:"remote" validate:"required"`
	Set    string `mapstructure:"set"`
}

type CollectionConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	RemoteDir   string `mapstructure:"remote_dir" validate:"required"`
	Suffix      string `mapstructure:"suffix"`
	Contains    string `mapstructure:"contains"`
	LocalSubdir string `mapstructure:"local_subdir"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0,max=15"`
	// ReportTTLHours bounds how long stored fleet reports are kept.
	ReportTTLHours int `mapstructure:"report_ttl_hours" validate:"min=1"`
}

type DaemonConfig struct {
	LogLevel    string `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	Concurrency int    `mapstructure:"concurrency" validate:"min=1,max=16"`
}

type PublishConfig struct {
	MaxRetry       int `mapstructure:"max_retry" validate:"min=0,max=10"`
	TimeoutMinutes int `mapstructure:"timeout_minutes" validate:"required,min=1,max=1440"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
}

// HookConfig runs a local command some time after successful deploys, with
// bursts of deploys collapsed into one run.
type HookConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Command         string `mapstructure:"command" validate:"required_if=Enabled true"`
	DebounceMinutes int    `mapstructure:"debounce_minutes" validate:"min=1"`
	TimeoutMinutes  int    `mapstructure:"timeout_minutes" validate:"min=1"`
}

type ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Prefix     string `mapstructure:"prefix"`
	AccessKey  string `mapstructure:"access_key" validate:"required_if=Enabled true"`
	SecretKey  string `mapstructure:"secret_key" validate:"required_if=Enabled true"`
	MaxRetries int    `mapstructure:"max_retries" validate:"min=0,max=10"`
}

func LoadFromFile(filename string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(filename)
	v.SetConfigType("toml")

	v.SetEnvPrefix("FLEETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyListDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if invalid := config.InvalidHosts(); len(invalid) > 0 {
		logger.Warn("found invalid host configurations", map[string]any{
			"count": len(invalid),
			"hosts": strings.Join(invalid, ","),
		})
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transfer.max_concurrent", 5)
	v.SetDefault("transfer.timeout_seconds", 300)
	v.SetDefault("transfer.retry_attempts", 3)
	v.SetDefault("transfer.connect_retry_delay_ms", 1000)
	v.SetDefault("transfer.file_retry_delay_ms", 2000)
	v.SetDefault("transfer.exponential_backoff", true)
	v.SetDefault("transfer.progress_buffer", 256)

	v.SetDefault("paths.local_sync_path", "./sync")
	v.SetDefault("paths.local_logs_path", "./logs")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.report_ttl_hours", 24*7)

	v.SetDefault("daemon.log_level", "info")
	v.SetDefault("daemon.concurrency", 1)

	v.SetDefault("publish.max_retry", 0)
	v.SetDefault("publish.timeout_minutes", 60)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("hook.enabled", false)
	v.SetDefault("hook.command", "")
	v.SetDefault("hook.debounce_minutes", 5)
	v.SetDefault("hook.timeout_minutes", 1)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.prefix", "fleet-reports")
	v.SetDefault("archive.max_retries", 3)
}

// applyListDefaults fills in the deploy sets and log collections of the
// stock Day of Defeat fleet when the file does not define its own.
func applyListDefaults(c *Config) {
	if len(c.Deploy.Sets) == 0 && len(c.Deploy.Files) == 0 {
		c.Deploy = DefaultDeploy()
	}
	if len(c.Collections) == 0 {
		c.Collections = DefaultCollections()
	}
}

func DefaultDeploy() DeployConfig {
	return DeployConfig{
		Sets: []DeploySetConfig{
			{Name: "core", Enabled: true},
			{Name: "ktp", Enabled: true},
			{Name: "maps", LocalDir: "dod/maps", RemoteDir: "/dod/maps", Pattern: "*.bsp", Enabled: true},
			{Name: "wads", LocalDir: "dod", RemoteDir: "/dod", Pattern: "*.wad", Enabled: true},
			{Name: "sounds", LocalDir: "dod/sound", RemoteDir: "/dod/sound", Pattern: "*.wav", Recursive: true},
		},
		Files: []DeployFileConfig{
			{Local: "amxmodx/configs/amxx.cfg", Remote: "/dod/addons/amxmodx/configs/amxx.cfg", Set: "core"},
			{Local: "amxmodx/configs/plugins.ini", Remote: "/dod/addons/amxmodx/configs/plugins.ini", Set: "core"},
			{Local: "amxmodx/configs/filelist.ini", Remote: "/dod/addons/amxmodx/configs/filelist.ini", Set: "core"},
			{Local: "amxmodx/data/lang/ktp_cvar.txt", Remote: "/dod/addons/amxmodx/data/lang/ktp_cvar.txt", Set: "core"},
			{Local: "amxmodx/data/lang/ktp_cvarcfg.txt", Remote: "/dod/addons/amxmodx/data/lang/ktp_cvarcfg.txt", Set: "core"},
			{Local: "amxmodx/plugins/ktp_cvar.amxx", Remote: "/dod/addons/amxmodx/plugins/ktp_cvar.amxx", Set: "ktp"},
			{Local: "amxmodx/plugins/ktp_cvarconfig.amxx", Remote: "/dod/addons/amxmodx/plugins/ktp_cvarconfig.amxx", Set: "ktp"},
			{Local: "amxmodx/plugins/filescheck.amxx", Remote: "/dod/addons/amxmodx/plugins/filescheck.amxx", Set: "ktp"},
		},
	}
}

func DefaultCollections() []CollectionConfig {
	return []CollectionConfig{
		{Name: "cvar", RemoteDir: "/dod/addons/amxmodx/logs", Suffix: ".log"},
		{Name: "filecheck", RemoteDir: "/dod/addons/amxmodx/logs", Suffix: ".log", Contains: "filecheck", LocalSubdir: "FileChecks"},
		{Name: "game", RemoteDir: "/dod/logs", Suffix: ".log", LocalSubdir: "DoDLogs"},
	}
}

func validateConfig(config *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(config); err != nil {
		return err
	}

	names := make(map[string]struct{}, len(config.Deploy.Sets))
	for _, set := range config.Deploy.Sets {
		key := strings.ToLower(set.Name)
		if _, dup := names[key]; dup {
			return fmt.Errorf("deploy set %q defined more than once", set.Name)
		}
		names[key] = struct{}{}
	}
	for _, f := range config.Deploy.Files {
		if f.Set == "" {
			continue
		}
		if _, ok := names[strings.ToLower(f.Set)]; !ok {
			return fmt.Errorf("deploy file %q refers to unknown set %q", f.Local, f.Set)
		}
	}

	seen := make(map[string]struct{}, len(config.Collections))
	for _, c := range config.Collections {
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("collection %q defined more than once", c.Name)
		}
		seen[key] = struct{}{}
	}

	return nil
}

func (h HostConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

func (h HostConfig) Target() fleet.HostTarget {
	return fleet.HostTarget{
		Region:      h.Region,
		Hostname:    h.Hostname,
		Address:     h.Address,
		Port:        h.Port,
		Username:    h.Username,
		Secret:      h.Secret,
		Enabled:     h.IsEnabled(),
		Protocol:    transfer.Protocol(strings.ToLower(h.Protocol)),
		Description: h.Description,
	}
}

func (c *Config) EnabledHosts() []fleet.HostTarget {
	var out []fleet.HostTarget
	for _, h := range c.Hosts {
		if h.IsEnabled() {
			out = append(out, h.Target())
		}
	}
	return out
}

// HostsByRegion returns the enabled hosts of region, ignoring case.
func (c *Config) HostsByRegion(region string) []fleet.HostTarget {
	var out []fleet.HostTarget
	for _, h := range c.Hosts {
		if h.IsEnabled() && strings.EqualFold(h.Region, region) {
			out = append(out, h.Target())
		}
	}
	return out
}

// HostByName finds a host by hostname, ignoring case, whether or not it is enabled.
func (c *Config) HostByName(name string) (fleet.HostTarget, bool) {
	for _, h := range c.Hosts {
		if strings.EqualFold(h.Hostname, name) {
			return h.Target(), true
		}
	}
	return fleet.HostTarget{}, false
}

func (c *Config) RegionCounts() map[string]int {
	counts := make(map[string]int)
	for _, h := range c.Hosts {
		counts[h.Region]++
	}
	return counts
}

// InvalidHosts names the hosts that are missing required connection fields.
func (c *Config) InvalidHosts() []string {
	var invalid []string
	for _, h := range c.Hosts {
		if err := h.Target().Validate(); err != nil {
			name := h.Hostname
			if name == "" {
				name = "(no hostname)"
			}
			invalid = append(invalid, name)
		}
	}
	sort.Strings(invalid)
	return invalid
}

func (c *Config) OrchestratorOptions(log *logger.Logger) fleet.Options {
	return fleet.Options{
		MaxConcurrent:      c.Transfer.MaxConcurrent,
		Timeout:            time.Duration(c.Transfer.TimeoutSeconds) * time.Second,
		RetryAttempts:      c.Transfer.RetryAttempts,
		ConnectRetryDelay:  time.Duration(c.Transfer.ConnectRetryDelayMs) * time.Millisecond,
		FileRetryDelay:     time.Duration(c.Transfer.FileRetryDelayMs) * time.Millisecond,
		ExponentialBackoff: c.Transfer.ExponentialBackoff,
		Logger:             log,
	}
}

func (c *Config) ReportTTL() time.Duration {
	return time.Duration(c.Redis.ReportTTLHours) * time.Hour
}
