package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config holds all configuration for one qualifier process. It is built once
// at startup and never mutated afterwards.
type Config struct {
	Target    TargetConfig
	Scheduler SchedulerConfig
	Registry  RegistryConfig
	Results   ResultsConfig
	HTTP      HTTPConfig
	Poll      PollConfig
	Loop      LoopConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig

	NamespaceMap string
	LogLevel     slog.Level
}

// TargetConfig identifies what is being qualified.
type TargetConfig struct {
	JobProfile string
	Namespace  string
	V4Version  string
	Branch     string
}

type SchedulerConfig struct {
	BaseURL    string
	ResultsURL string
	Username   string
	Password   string
}

type RegistryConfig struct {
	BaseURL string
}

type ResultsConfig struct {
	RepoURL       string
	WorkDir       string
	Username      string
	Token         string
	Email         string
	MaxLogEntries int
}

type HTTPConfig struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
}

type PollConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	// Timeout bounds a single task wait. Zero waits forever.
	Timeout time.Duration
}

type LoopConfig struct {
	SettleDelay     time.Duration
	DefaultPostWait time.Duration
}

// DatabaseConfig is optional; an empty URL keeps run history in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; an empty URL disables the publish lock.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

// ServerConfig is optional; an empty Addr disables the status API.
type ServerConfig struct {
	Addr      string
	TokenHash string
}

// Flags carries the command-line values. Every field except NamespaceMap and
// GitEmail is required.
type Flags struct {
	JobProfile        string
	Namespace         string
	V4Version         string
	Branch            string
	GitUsername       string
	GitToken          string
	SchedulerUsername string
	SchedulerPassword string

	NamespaceMap string
	GitEmail     string
}

const (
	DefaultSchedulerBaseURL = "https://jita-web-server-1.eng.nutanix.com/api/v2"
	DefaultResultsURL       = "https://jita.eng.nutanix.com/results?task_ids="
	DefaultRegistryBaseURL  = "https://developers.internal.nutanix.com/api/v1/namespaces"
	DefaultResultsRepoURL   = "https://github.com/raeesulasaad/ntnx_v4_sdk_qualification.git"
)

// Load combines command-line flags with environment variables and returns a
// validated Config. Returns an error naming the first missing or invalid value.
func Load(f Flags) (*Config, error) {
	cfg := &Config{
		Target: TargetConfig{
			JobProfile: strings.TrimSpace(f.JobProfile),
			Namespace:  strings.TrimSpace(f.Namespace),
			V4Version:  strings.TrimSpace(f.V4Version),
			Branch:     strings.TrimSpace(f.Branch),
		},
		Scheduler: SchedulerConfig{
			BaseURL:    strings.TrimRight(envString("SCHEDULER_BASE_URL", DefaultSchedulerBaseURL), "/"),
			ResultsURL: envString("SCHEDULER_RESULTS_URL", DefaultResultsURL),
			Username:   f.SchedulerUsername,
			Password:   f.SchedulerPassword,
		},
		Registry: RegistryConfig{
			BaseURL: strings.TrimRight(envString("REGISTRY_BASE_URL", DefaultRegistryBaseURL), "/"),
		},
		Results: ResultsConfig{
			RepoURL:       envString("RESULTS_REPO_URL", DefaultResultsRepoURL),
			WorkDir:       envString("RESULTS_WORKDIR", "./sdk-qual-repo"),
			Username:      f.GitUsername,
			Token:         f.GitToken,
			Email:         f.GitEmail,
			MaxLogEntries: envInt("RESULTS_MAX_LOG_ENTRIES", 5000),
		},
		HTTP: HTTPConfig{
			Timeout:            envDuration("HTTP_TIMEOUT", 60*time.Second),
			InsecureSkipVerify: envBool("HTTP_INSECURE_SKIP_VERIFY", false),
		},
		Poll: PollConfig{
			InitialDelay: envDuration("POLL_INITIAL_DELAY", 20*time.Second),
			Interval:     envDuration("POLL_INTERVAL", 600*time.Second),
			Timeout:      envDuration("POLL_TIMEOUT", 0),
		},
		Loop: LoopConfig{
			SettleDelay:     envDuration("PROFILE_SETTLE_DELAY", 10*time.Second),
			DefaultPostWait: envDurationSecs("DEFAULT_POST_RUN_WAIT_SECS", 3600*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 4),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 1),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:     os.Getenv("REDIS_URL"),
			LockTTL: envDuration("PUBLISH_LOCK_TTL", 5*time.Minute),
		},
		Server: ServerConfig{
			Addr:      os.Getenv("QUALIFIER_STATUS_ADDR"),
			TokenHash: os.Getenv("QUALIFIER_API_TOKEN_HASH"),
		},
		NamespaceMap: f.NamespaceMap,
		LogLevel:     envLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.Results.Email == "" {
		cfg.Results.Email = cfg.Results.Username + "@users.noreply.github.com"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	required := []struct {
		flag  string
		value string
	}{
		{"--job-profile", c.Target.JobProfile},
		{"--namespace", c.Target.Namespace},
		{"--v4-version", c.Target.V4Version},
		{"--branch", c.Target.Branch},
		{"--git-username", c.Results.Username},
		{"--git-token", c.Results.Token},
		{"--scheduler-username", c.Scheduler.Username},
		{"--scheduler-password", c.Scheduler.Password},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.flag)
		}
	}

	for name, u := range map[string]string{
		"SCHEDULER_BASE_URL": c.Scheduler.BaseURL,
		"REGISTRY_BASE_URL":  c.Registry.BaseURL,
		"RESULTS_REPO_URL":   c.Results.RepoURL,
	} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "file://") {
			return fmt.Errorf("%s must start with http://, https:// or file://, got %q", name, u)
		}
	}

	if c.Results.WorkDir == "" {
		return fmt.Errorf("RESULTS_WORKDIR must not be empty")
	}
	if c.Results.MaxLogEntries < 1 {
		return fmt.Errorf("RESULTS_MAX_LOG_ENTRIES must be positive, got %d", c.Results.MaxLogEntries)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.InitialDelay < 0 || c.Poll.Timeout < 0 || c.Loop.SettleDelay < 0 {
		return fmt.Errorf("POLL_INITIAL_DELAY, POLL_TIMEOUT and PROFILE_SETTLE_DELAY must not be negative")
	}
	if c.Loop.DefaultPostWait < 0 {
		return fmt.Errorf("DEFAULT_POST_RUN_WAIT_SECS must not be negative")
	}
	if c.Server.TokenHash != "" && c.Server.Addr == "" {
		return fmt.Errorf("QUALIFIER_API_TOKEN_HASH is set but QUALIFIER_STATUS_ADDR is empty")
	}

	return nil
}

// flagAliases maps legacy flag spellings onto the current names.
var flagAliases = map[string]string{
	"name-space":    "namespace",
	"pc-branch":     "branch",
	"jita-username": "scheduler-username",
	"jita-password": "scheduler-password",
}

// NormalizeFlagName lets both --job_profile and --job-profile style flags
// resolve to the same definition.
func NormalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.ReplaceAll(name, "_", "-")
	if alias, ok := flagAliases[name]; ok {
		name = alias
	}
	return pflag.NormalizedName(name)
}

// BindFlags registers the qualifier's flags on fs, storing values in f.
// It returns the names of the required flags.
func BindFlags(fs *pflag.FlagSet, f *Flags) []string {
	fs.SetNormalizeFunc(NormalizeFlagName)

	fs.StringVar(&f.JobProfile, "job-profile", "", "name of the job profile that runs the qualification tests")
	fs.StringVar(&f.Namespace, "namespace", "", "SDK namespace to qualify (e.g. storage, networking)")
	fs.StringVar(&f.V4Version, "v4-version", "", "v4 API version to qualify (e.g. v4.0.a5)")
	fs.StringVar(&f.Branch, "branch", "", "PC branch to qualify against (e.g. master)")
	fs.StringVar(&f.GitUsername, "git-username", "", "user name for pushing results")
	fs.StringVar(&f.GitToken, "git-token", "", "access token for pushing results")
	fs.StringVar(&f.SchedulerUsername, "scheduler-username", "", "job scheduler user for updating and triggering the job profile")
	fs.StringVar(&f.SchedulerPassword, "scheduler-password", "", "job scheduler password")
	fs.StringVar(&f.NamespaceMap, "namespace-map", "", "optional YAML file mapping namespaces to SDK package names")
	fs.StringVar(&f.GitEmail, "git-email", "", "commit author email (defaults to the noreply address of --git-username)")

	return []string{
		"job-profile", "namespace", "v4-version", "branch",
		"git-username", "git-token", "scheduler-username", "scheduler-password",
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
