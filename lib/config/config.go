// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads.
const EnvironmentVariable = "VAULT_CONFIG"

// Config is the complete vault configuration, shared by vault-engine
// and the vault CLI. A file only needs the sections it changes; every
// other field keeps the value from [Default].
type Config struct {
	// Storage locates the drive key and drive databases.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Network configures peer discovery and the replication
	// transports. Ignored when the engine runs with --offline.
	Network NetworkConfig `yaml:"network" json:"network"`

	// RPC selects how consumers reach the engine and how long the CLI
	// waits for an answer.
	RPC RPCConfig `yaml:"rpc" json:"rpc"`

	// Drive tunes how the flat key space is presented as folders.
	Drive DriveConfig `yaml:"drive" json:"drive"`

	// Logging controls the engine's structured log output.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Mount configures the optional FUSE view of the drive.
	Mount MountConfig `yaml:"mount" json:"mount"`
}

// StorageConfig locates the engine's persistent state.
type StorageConfig struct {
	// Root is the base directory. The engine keeps its drive key and
	// drive databases under Root/persistent and takes an exclusive
	// lock there, so two engines cannot share a Root. ${HOME} is
	// expanded; the default is ${HOME}/.local/share/vault.
	Root string `yaml:"root" json:"root"`
}

// NetworkConfig configures peer discovery and transports.
type NetworkConfig struct {
	// Listen is the TCP address for inbound peer connections. Empty
	// disables the TCP listener.
	Listen string `yaml:"listen" json:"listen"`

	// Advertise is the address announced to other peers. Defaults to
	// the listener's bound address.
	Advertise string `yaml:"advertise" json:"advertise"`

	// Rendezvous is the base URL of a vault-rendezvous server used for
	// topic lookup and WebRTC signaling. Empty disables it.
	Rendezvous string `yaml:"rendezvous" json:"rendezvous"`

	// Peers are TCP addresses dialed for every joined topic.
	Peers []string `yaml:"peers" json:"peers"`

	// WebRTC enables the data channel transport. Requires Rendezvous
	// for signaling.
	WebRTC bool `yaml:"webrtc" json:"webrtc"`

	// ICEServers are STUN/TURN URLs for WebRTC.
	ICEServers []string `yaml:"ice_servers" json:"ice_servers"`

	// LookupInterval is how often joined topics are re-announced and
	// re-resolved. Go duration syntax.
	LookupInterval string `yaml:"lookup_interval" json:"lookup_interval"`
}

// RPCConfig selects how consumers reach the engine.
type RPCConfig struct {
	// Mode is "stdio" or "socket". In stdio mode a single consumer
	// speaks on stdin/stdout and the engine exits when it hangs up.
	// In socket mode any number of consumers attach to Socket.
	Mode string `yaml:"mode" json:"mode"`

	// Socket is the Unix socket path in socket mode. ${VAULT_ROOT}
	// expands to Storage.Root. The engine refuses to start if another
	// engine already answers on this path.
	Socket string `yaml:"socket" json:"socket"`

	// RequestTimeout bounds how long the CLI waits for a response, in
	// Go duration syntax. Commands the engine drops (malformed input,
	// or sent before the drive is ready) surface as this timeout.
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
}

// DriveConfig tunes the virtual drive.
type DriveConfig struct {
	// FolderIndex is "parent" or "ancestors". With "parent" only a
	// file's immediate folder is listed; with "ancestors" every
	// enclosing folder is.
	FolderIndex string `yaml:"folder_index" json:"folder_index"`
}

// LoggingConfig controls the engine's slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" json:"level"`

	// Format is "text", "json", or empty to pick by terminal.
	Format string `yaml:"format" json:"format"`
}

// MountConfig configures the optional FUSE mount.
type MountConfig struct {
	// Path is the mountpoint. Empty disables mounting.
	Path string `yaml:"path" json:"path"`

	// AllowOther lets users other than the engine's owner access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other" json:"allow_other"`
}

// Default returns the configuration used when no file is named:
// stdio RPC, a TCP listener on an ephemeral port, info logging, and
// storage under ${HOME}/.local/share/vault. Variables are already
// expanded.
func Default() *Config {
	config := &Config{
		Storage: StorageConfig{Root: "${HOME}/.local/share/vault"},
		Network: NetworkConfig{
			Listen:         ":0",
			LookupInterval: "30s",
		},
		RPC: RPCConfig{
			Mode:           "stdio",
			Socket:         "${VAULT_ROOT}/engine.sock",
			RequestTimeout: "30s",
		},
		Drive:   DriveConfig{FolderIndex: "parent"},
		Logging: LoggingConfig{Level: "info"},
	}
	config.expandVariables()
	return config
}

// Load reads the file named by the VAULT_CONFIG environment variable.
// It fails if the variable is unset; use [Resolve] to fall back to
// defaults.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; set it to a vault.yaml path or pass --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// Resolve loads flagPath if set, else VAULT_CONFIG if set, else
// returns Default.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	return Default(), nil
}

// LoadFile merges the file at path over [Default]. Files ending in
// .json or .jsonc are parsed as JSON with comments; anything else is
// YAML. The result is not validated; call [Config.Validate].
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := Default()
	// Re-apply raw defaults so ${VAULT_ROOT} follows a root set in the
	// file rather than the default root.
	config.RPC.Socket = "${VAULT_ROOT}/engine.sock"

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), config); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	config.expandVariables()
	return config, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Storage.Root = expandVars(c.Storage.Root, vars)
	vars["VAULT_ROOT"] = c.Storage.Root

	c.RPC.Socket = expandVars(c.RPC.Socket, vars)
	c.Mount.Path = expandVars(c.Mount.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(value string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if resolved, ok := vars[name]; ok && resolved != "" {
			return resolved
		}
		if resolved := os.Getenv(name); resolved != "" {
			return resolved
		}
		return fallback
	})
}

// Validate checks every field and reports all problems at once,
// joined with [errors.Join].
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage.root is required"))
	}
	if _, err := c.LookupInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RequestTimeout(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{"stdio", "socket"}, c.RPC.Mode) {
		errs = append(errs, fmt.Errorf("rpc.mode must be stdio or socket, got %q", c.RPC.Mode))
	}
	if c.RPC.Mode == "socket" && c.RPC.Socket == "" {
		errs = append(errs, errors.New("rpc.socket is required in socket mode"))
	}
	if !slices.Contains([]string{"parent", "ancestors"}, c.Drive.FolderIndex) {
		errs = append(errs, fmt.Errorf("drive.folder_index must be parent or ancestors, got %q", c.Drive.FolderIndex))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}
	if !slices.Contains([]string{"", "text", "json"}, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if c.Network.WebRTC && c.Network.Rendezvous == "" {
		errs = append(errs, errors.New("network.webrtc requires network.rendezvous for signaling"))
	}

	return errors.Join(errs...)
}

// LookupInterval parses Network.LookupInterval.
func (c *Config) LookupInterval() (time.Duration, error) {
	return parsePositiveDuration("network.lookup_interval", c.Network.LookupInterval)
}

// RequestTimeout parses RPC.RequestTimeout.
func (c *Config) RequestTimeout() (time.Duration, error) {
	return parsePositiveDuration("rpc.request_timeout", c.RPC.RequestTimeout)
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

// PersistentDirectory is where the engine keeps its drive key and
// drive databases.
func (c *Config) PersistentDirectory() string {
	return filepath.Join(c.Storage.Root, "persistent")
}

// EnsurePaths creates Storage.Root and the persistent directory with
// mode 0700. Existing directories are left as they are.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Storage.Root, c.PersistentDirectory()} {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
