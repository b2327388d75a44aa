package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config captures the archive and logging options shared by every command.
type Config struct {
	ScratchDir  string `yaml:"scratch_dir"`
	Debug       bool   `yaml:"debug"`
	AutoReopen  bool   `yaml:"auto_reopen"`
	LogLevel    string `yaml:"log_level"`
	LogDir      string `yaml:"log_dir"`
	MetricsFile string `yaml:"metrics_file"`
	IMAP        IMAP   `yaml:"imap"`
}

// IMAP holds the export target. Only the export command registers its flags.
type IMAP struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Pass               string `yaml:"pass"`
	UseTLS             bool   `yaml:"use_tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	TargetFolder       string `yaml:"target_folder"`
	StateDir           string `yaml:"state_dir"`
	DryRun             bool   `yaml:"dry_run"`
}

// Default returns the configuration used when neither flags nor a config
// file say otherwise.
func Default() Config {
	return Config{
		ScratchDir: os.TempDir(),
		AutoReopen: true,
		LogLevel:   "info",
		IMAP: IMAP{
			Port:         993,
			UseTLS:       true,
			TargetFolder: "INBOX",
		},
	}
}

// RegisterFlags attaches the global flags to the root command.
func RegisterFlags(cmd *cobra.Command) {
	def := Default()

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file (falls back to MBOX_INDEX_CONFIG env var)")
	flags.String("scratch-dir", def.ScratchDir, "Directory for rewrite scratch files")
	flags.Bool("debug", def.Debug, "Log the byte range of every message read")
	flags.Bool("auto-reopen", def.AutoReopen, "Re-index the archive after every mutation")
	flags.String("log-level", def.LogLevel, "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (stderr only when empty)")
	flags.String("metrics-file", "", "Write Prometheus metrics to this file when the command finishes")
}

// RegisterIMAPFlags attaches the export target flags to cmd. When the home
// directory is unknown --state-dir has no default and LoadIMAP reports it.
func RegisterIMAPFlags(cmd *cobra.Command) {
	stateDir, _ := defaultStateDir()
	def := Default().IMAP

	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", def.Port, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", def.UseTLS, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-folder", def.TargetFolder, "Target IMAP folder for exported mail")
	flags.String("state-dir", stateDir, "Directory for the export ledger")
	flags.Bool("dry-run", false, "Record what would be exported without uploading")
}

// LoadConfig merges defaults, the optional YAML file and explicitly set flags,
// in that order, and validates the result.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	cfg := Default()
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	if configPath == "" {
		configPath = os.Getenv("MBOX_INDEX_CONFIG")
	}
	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyFlags(cmd, &cfg); err != nil {
		return Config{}, err
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.Debug && cfg.LogLevel != "debug" {
		cfg.LogLevel = "debug"
	}
	if strings.TrimSpace(cfg.ScratchDir) == "" {
		cfg.ScratchDir = os.TempDir()
	}
	cfg.ScratchDir = filepath.Clean(cfg.ScratchDir)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadIMAP completes cfg.IMAP for the export command and validates it.
func LoadIMAP(cmd *cobra.Command, cfg Config) (IMAP, error) {
	out := cfg.IMAP
	if err := applyIMAPFlags(cmd, &out); err != nil {
		return IMAP{}, err
	}

	if out.Pass == "" {
		out.Pass = os.Getenv("IMAP_PASS")
	}
	if out.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return IMAP{}, err
		}
		out.StateDir = dir
	}
	out.StateDir = filepath.Clean(out.StateDir)

	if err := validateIMAP(out); err != nil {
		return IMAP{}, err
	}
	return out, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyFlags copies flags the user set explicitly, so a config file value is
// not overwritten by a flag default.
func applyFlags(cmd *cobra.Command, cfg *Config) error {
	flags := cmd.Flags()
	var err error

	if flags.Changed("scratch-dir") {
		if cfg.ScratchDir, err = flags.GetString("scratch-dir"); err != nil {
			return err
		}
	}
	if flags.Changed("debug") {
		if cfg.Debug, err = flags.GetBool("debug"); err != nil {
			return err
		}
	}
	if flags.Changed("auto-reopen") {
		if cfg.AutoReopen, err = flags.GetBool("auto-reopen"); err != nil {
			return err
		}
	}
	if flags.Changed("log-level") {
		if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
			return err
		}
	}
	if flags.Changed("log-dir") {
		if cfg.LogDir, err = flags.GetString("log-dir"); err != nil {
			return err
		}
	}
	if flags.Changed("metrics-file") {
		if cfg.MetricsFile, err = flags.GetString("metrics-file"); err != nil {
			return err
		}
	}
	return nil
}

func applyIMAPFlags(cmd *cobra.Command, out *IMAP) error {
	flags := cmd.Flags()
	var err error

	if flags.Changed("imap-host") {
		if out.Host, err = flags.GetString("imap-host"); err != nil {
			return err
		}
	}
	if flags.Changed("imap-port") {
		if out.Port, err = flags.GetInt("imap-port"); err != nil {
			return err
		}
	}
	if flags.Changed("imap-user") {
		if out.User, err = flags.GetString("imap-user"); err != nil {
			return err
		}
	}
	if flags.Changed("imap-pass") {
		if out.Pass, err = flags.GetString("imap-pass"); err != nil {
			return err
		}
	}
	if flags.Changed("use-tls") {
		if out.UseTLS, err = flags.GetBool("use-tls"); err != nil {
			return err
		}
	}
	if flags.Changed("insecure-skip-verify") {
		if out.InsecureSkipVerify, err = flags.GetBool("insecure-skip-verify"); err != nil {
			return err
		}
	}
	if flags.Changed("target-folder") {
		if out.TargetFolder, err = flags.GetString("target-folder"); err != nil {
			return err
		}
	}
	if flags.Changed("state-dir") {
		if out.StateDir, err = flags.GetString("state-dir"); err != nil {
			return err
		}
	}
	if flags.Changed("dry-run") {
		if out.DryRun, err = flags.GetBool("dry-run"); err != nil {
			return err
		}
	}
	return nil
}

func validateConfig(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	info, err := os.Stat(cfg.ScratchDir)
	if err != nil {
		return fmt.Errorf("--scratch-dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("--scratch-dir %s is not a directory", cfg.ScratchDir)
	}
	return nil
}

func validateIMAP(cfg IMAP) error {
	if cfg.Host == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.DryRun {
		return nil
	}
	if cfg.User == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if cfg.Pass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
	}
	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mbox-index", "state"), nil
}
