// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads gcbridge's YAML configuration.
//
// The configuration file is named by the --config flag ([LoadFile]) or
// the GCBRIDGE_CONFIG environment variable ([Load]). There is no
// discovery and no per-field environment override: the file is the
// single source of truth for everything except secrets.
//
// Secrets never live in the YAML. [Config.LoadSecrets] reads the
// password and one-time-code seed from the files named under
// account:, falling back to GCBRIDGE_PASSWORD and GCBRIDGE_TOTP_SEED.
// [LoadEnvFile] can populate those variables from a dotenv file first.
//
// Durations are YAML strings ("30s", "1m"). [Default] supplies every
// timing constant; a file only needs to name what it changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/gcbridge/lib/secret"
)

// Environment variable names.
const (
	EnvConfig   = "GCBRIDGE_CONFIG"
	EnvPassword = "GCBRIDGE_PASSWORD"
	EnvTOTPSeed = "GCBRIDGE_TOTP_SEED"
)

// Config is the complete gcbridge configuration.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Paths       PathsConfig       `yaml:"paths"`
	Sidecar     SidecarConfig     `yaml:"sidecar"`
	HTTP        HTTPConfig        `yaml:"http"`
	Presence    PresenceConfig    `yaml:"presence"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Startup     StartupConfig     `yaml:"startup"`
}

// AccountConfig identifies the presence account and where its secrets
// live.
type AccountConfig struct {
	// Name is the account login name. Required.
	Name string `yaml:"name"`

	// PasswordFile holds the account password. Optional; when empty
	// GCBRIDGE_PASSWORD is consulted. With neither, only stored
	// session keys can log in.
	PasswordFile string `yaml:"password_file"`

	// TOTPSeedFile holds the base64 authenticator shared secret.
	// Optional; when empty GCBRIDGE_TOTP_SEED is consulted. Without a
	// seed, one-time-code prompts are surfaced for manual entry.
	TOTPSeedFile string `yaml:"totp_seed_file"`

	// SealIdentityFile is an age private key. When set, credential
	// artifacts are encrypted at rest.
	SealIdentityFile string `yaml:"seal_identity_file"`
}

// PathsConfig configures directory locations. ${HOME} and
// ${GCBRIDGE_ROOT} are expanded.
type PathsConfig struct {
	// Root is the base directory for gcbridge state.
	Root string `yaml:"root"`

	// Credentials is where per-account artifacts are stored.
	Credentials string `yaml:"credentials"`

	// State holds the fatal-disconnect watchdog record.
	State string `yaml:"state"`
}

// SidecarConfig locates the protocol sidecar.
type SidecarConfig struct {
	// URL is the sidecar's WebSocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// CallTimeout bounds each RPC that is not otherwise bounded by a
	// context deadline.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// HTTPConfig configures the routing surface.
type HTTPConfig struct {
	// Address is the listen address, for example "127.0.0.1:8080".
	Address string `yaml:"address"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PresenceConfig tunes the presence session.
type PresenceConfig struct {
	// AppID is the game reported via GamesPlayed. The coordinator only
	// answers once this game is reported.
	AppID uint32 `yaml:"app_id"`

	// AutoRelogin asks the collaborator to reconnect on its own after
	// a dropped connection.
	AutoRelogin bool `yaml:"auto_relogin"`

	// RetryDelay is the collaborator's delay between reconnects.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// LogonMinInterval is the minimum spacing between LogOn calls.
	LogonMinInterval time.Duration `yaml:"logon_min_interval"`

	// DisconnectThreshold is how many consecutive errors or
	// disconnects, without a successful login between them, end the
	// process.
	DisconnectThreshold int `yaml:"disconnect_threshold"`

	// ExtractionTimeout bounds the post-login artifact scan.
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
}

// CoordinatorConfig tunes readiness waits and profile requests.
type CoordinatorConfig struct {
	ReadyTimeout            time.Duration `yaml:"ready_timeout"`
	ReadyAttempts           int           `yaml:"ready_attempts"`
	ReadyRetryDelay         time.Duration `yaml:"ready_retry_delay"`
	BackgroundRetryInterval time.Duration `yaml:"background_retry_interval"`
	RequestTimeout          time.Duration `yaml:"request_timeout"`
}

// StartupConfig holds the fixed settle delays between startup steps
// and the shutdown drain. The remote services need propagation time
// between these steps; nothing is polled.
type StartupConfig struct {
	PostLoginSettle   time.Duration `yaml:"post_login_settle"`
	PersonaSettle     time.Duration `yaml:"persona_settle"`
	CoordinatorSettle time.Duration `yaml:"coordinator_settle"`
	GameSettle        time.Duration `yaml:"game_settle"`

	// GracePeriod separates the first login from later reconnects:
	// only LoggedIn transitions after it trigger recovery.
	GracePeriod time.Duration `yaml:"grace_period"`

	// ShutdownDrain is waited after log-off so the remote side sees
	// the session end before the process exits.
	ShutdownDrain time.Duration `yaml:"shutdown_drain"`
}

// Default returns a Config with every tunable set. Account.Name and
// Sidecar.URL have no default; Validate rejects them when empty.
func Default() *Config {
	homeDirectory, _ := os.UserHomeDir()
	root := filepath.Join(homeDirectory, ".local", "state", "gcbridge")

	return &Config{
		Paths: PathsConfig{
			Root:        root,
			Credentials: filepath.Join(root, "credentials"),
			State:       filepath.Join(root, "state"),
		},
		Sidecar: SidecarConfig{
			DialTimeout: 10 * time.Second,
			CallTimeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Address:         "127.0.0.1:8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Presence: PresenceConfig{
			AppID:               730,
			AutoRelogin:         true,
			RetryDelay:          10 * time.Second,
			LogonMinInterval:    10 * time.Second,
			DisconnectThreshold: 5,
			ExtractionTimeout:   5 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			ReadyTimeout:            30 * time.Second,
			ReadyAttempts:           3,
			ReadyRetryDelay:         10 * time.Second,
			BackgroundRetryInterval: 60 * time.Second,
			RequestTimeout:          30 * time.Second,
		},
		Startup: StartupConfig{
			PostLoginSettle:   2 * time.Second,
			PersonaSettle:     time.Second,
			CoordinatorSettle: time.Second,
			GameSettle:        3 * time.Second,
			GracePeriod:       30 * time.Second,
			ShutdownDrain:     2 * time.Second,
		},
	}
}

// Load loads the file named by GCBRIDGE_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your gcbridge.yaml, or use --config", EnvConfig)
	}
	return LoadFile(path)
}

// LoadFile loads path over Default, expands path variables, and
// validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFile adds the variables in a dotenv file to the process
// environment. Variables already set are left alone.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) expandVariables() {
	variables := map[string]string{
		"GCBRIDGE_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}
	c.Paths.Root = expandVariables(c.Paths.Root, variables)
	variables["GCBRIDGE_ROOT"] = c.Paths.Root

	for _, field := range []*string{
		&c.Paths.Credentials,
		&c.Paths.State,
		&c.Account.PasswordFile,
		&c.Account.TOTPSeedFile,
		&c.Account.SealIdentityFile,
	} {
		*field = expandVariables(*field, variables)
	}
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables expands ${VAR} and ${VAR:-default}. Names in
// variables win over the process environment.
func expandVariables(value string, variables map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if resolved, ok := variables[name]; ok && resolved != "" {
			return resolved
		}
		if resolved := os.Getenv(name); resolved != "" {
			return resolved
		}
		return fallback
	})
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Account.Name == "" {
		errs = append(errs, errors.New("account.name is required"))
	}
	if c.Paths.Credentials == "" {
		errs = append(errs, errors.New("paths.credentials is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, errors.New("paths.state is required"))
	}
	if c.Sidecar.URL == "" {
		errs = append(errs, errors.New("sidecar.url is required"))
	}
	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address is required"))
	}
	if c.Presence.DisconnectThreshold < 1 {
		errs = append(errs, errors.New("presence.disconnect_threshold must be at least 1"))
	}
	if c.Coordinator.ReadyAttempts < 1 {
		errs = append(errs, errors.New("coordinator.ready_attempts must be at least 1"))
	}

	positive := map[string]time.Duration{
		"sidecar.dial_timeout":                  c.Sidecar.DialTimeout,
		"sidecar.call_timeout":                  c.Sidecar.CallTimeout,
		"coordinator.ready_timeout":             c.Coordinator.ReadyTimeout,
		"coordinator.background_retry_interval": c.Coordinator.BackgroundRetryInterval,
		"coordinator.request_timeout":           c.Coordinator.RequestTimeout,
		"presence.extraction_timeout":           c.Presence.ExtractionTimeout,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	nonNegative := map[string]time.Duration{
		"presence.retry_delay":          c.Presence.RetryDelay,
		"presence.logon_min_interval":   c.Presence.LogonMinInterval,
		"coordinator.ready_retry_delay": c.Coordinator.ReadyRetryDelay,
		"startup.post_login_settle":     c.Startup.PostLoginSettle,
		"startup.persona_settle":        c.Startup.PersonaSettle,
		"startup.coordinator_settle":    c.Startup.CoordinatorSettle,
		"startup.game_settle":           c.Startup.GameSettle,
		"startup.grace_period":          c.Startup.GracePeriod,
		"startup.shutdown_drain":        c.Startup.ShutdownDrain,
	}
	for _, name := range sortedKeys(nonNegative) {
		if nonNegative[name] < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the credential and state directories (0700).
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Credentials, c.Paths.State} {
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// Secrets are the login secrets. Either field may be nil.
type Secrets struct {
	Password *secret.Buffer
	TOTPSeed *secret.Buffer
}

// Close releases both buffers.
func (s *Secrets) Close() {
	s.Password.Close()
	s.TOTPSeed.Close()
}

// LoadSecrets reads the password and seed. A configured file must be
// readable; the environment fallback is optional.
func (c *Config) LoadSecrets() (*Secrets, error) {
	password, err := loadSecret(c.Account.PasswordFile, EnvPassword)
	if err != nil {
		return nil, fmt.Errorf("loading password: %w", err)
	}
	seed, err := loadSecret(c.Account.TOTPSeedFile, EnvTOTPSeed)
	if err != nil {
		password.Close()
		return nil, fmt.Errorf("loading totp seed: %w", err)
	}
	return &Secrets{Password: password, TOTPSeed: seed}, nil
}

func loadSecret(path, variable string) (*secret.Buffer, error) {
	if path != "" {
		return secret.ReadFromPath(path)
	}
	return secret.FromEnv(variable)
}

func sortedKeys(values map[string]time.Duration) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
