// Package config holds the chatpad runtime configuration: provider
// endpoints, OAuth client settings, credential storage location and
// logging options. Configuration is YAML with environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default endpoints for the hosted model provider. ResourceURL in a
// credential overrides API at runtime.
const (
	DefaultDeviceAuthURL = "https://auth.chatpad.dev/oauth/device/code"
	DefaultTokenURL      = "https://auth.chatpad.dev/oauth/token"
	DefaultAPIBaseURL    = "https://api.chatpad.dev/v1"

	DefaultClientID = "chatpad-editor"
	DefaultScope    = "chat:completions offline_access"
)

// Endpoints groups the provider URLs.
type Endpoints struct {
	// DeviceAuth is the OAuth device-authorization endpoint.
	DeviceAuth string `yaml:"device-auth,omitempty"`

	// Token is the OAuth token endpoint, shared by the device-code
	// grant and refresh_token grant.
	Token string `yaml:"token,omitempty"`

	// API is the chat completion base URL used when the credential
	// carries no resource_url.
	API string `yaml:"api,omitempty"`
}

// OAuth groups client registration values sent to the provider.
type OAuth struct {
	ClientID string `yaml:"client-id,omitempty"`
	Scope    string `yaml:"scope,omitempty"`
}

// Logging controls the process logger.
type Logging struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level,omitempty"`

	// File enables rotating file output when set.
	File string `yaml:"file,omitempty"`
}

// Config is the full runtime configuration.
type Config struct {
	Endpoints Endpoints `yaml:"endpoints,omitempty"`
	OAuth     OAuth     `yaml:"oauth,omitempty"`

	// CredentialFile is where the credential record is persisted when
	// no secret vault is available.
	CredentialFile string `yaml:"credential-file,omitempty"`

	Logging Logging `yaml:"logging,omitempty"`
}

// Default returns a configuration that works with zero on-disk config.
func Default() *Config {
	return &Config{
		Endpoints: Endpoints{
			DeviceAuth: DefaultDeviceAuthURL,
			Token:      DefaultTokenURL,
			API:        DefaultAPIBaseURL,
		},
		OAuth: OAuth{
			ClientID: DefaultClientID,
			Scope:    DefaultScope,
		},
		CredentialFile: DefaultCredentialFile(),
		Logging:        Logging{Level: "info"},
	}
}

// DefaultCredentialFile is the fixed per-user fallback path for the
// persisted credential record.
func DefaultCredentialFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chatpad", "credentials.json")
	}
	return filepath.Join(home, ".chatpad", "credentials.json")
}

// Load reads configuration from an optional YAML file, layering a local
// .env file and CHATPAD_* environment variables on top. A missing file
// is not an error; defaults fill every unset field.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Ignore a missing .env; it is a developer convenience.
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(cfg)
	fillDefaults(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setIfEnv(&cfg.Endpoints.DeviceAuth, "CHATPAD_DEVICE_AUTH_URL")
	setIfEnv(&cfg.Endpoints.Token, "CHATPAD_TOKEN_URL")
	setIfEnv(&cfg.Endpoints.API, "CHATPAD_API_URL")
	setIfEnv(&cfg.OAuth.ClientID, "CHATPAD_CLIENT_ID")
	setIfEnv(&cfg.OAuth.Scope, "CHATPAD_SCOPE")
	setIfEnv(&cfg.CredentialFile, "CHATPAD_CREDENTIAL_FILE")
	setIfEnv(&cfg.Logging.Level, "CHATPAD_LOG_LEVEL")
	setIfEnv(&cfg.Logging.File, "CHATPAD_LOG_FILE")
}

func setIfEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Endpoints.DeviceAuth == "" {
		cfg.Endpoints.DeviceAuth = def.Endpoints.DeviceAuth
	}
	if cfg.Endpoints.Token == "" {
		cfg.Endpoints.Token = def.Endpoints.Token
	}
	if cfg.Endpoints.API == "" {
		cfg.Endpoints.API = def.Endpoints.API
	}
	if cfg.OAuth.ClientID == "" {
		cfg.OAuth.ClientID = def.OAuth.ClientID
	}
	if cfg.OAuth.Scope == "" {
		cfg.OAuth.Scope = def.OAuth.Scope
	}
	if cfg.CredentialFile == "" {
		cfg.CredentialFile = def.CredentialFile
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}
