package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyManifestURL       = "update.manifest-url"
	KeyDevManifestURL    = "update.dev-manifest-url"
	KeyUseDevSource      = "update.use-dev-source"
	KeyPublicKey         = "update.public-key"
	KeyPublicKeyFile     = "update.public-key-file"
	KeyAutoCheckInterval = "update.auto-check-interval"
	KeyAutoDownload      = "update.auto-download"
	KeyCheckOnStart      = "update.check-on-start"
	KeyStateDir          = "update.state-dir"
	KeyMountPoint        = "update.mount-point"
	KeyDebug             = "debug"
)

const (
	// DefaultManifestURL is the production release channel.
	DefaultManifestURL = "https://releases.hatch.app/stable/manifest.json"
	// DefaultAutoCheckInterval is how often the scheduler checks when the
	// user has not configured an interval.
	DefaultAutoCheckInterval = 6 * time.Hour
	// DefaultMountPoint is where the DMG installer attaches update images.
	DefaultMountPoint = "/Volumes/Hatch Update"
	envPrefix         = "HATCH"
)

type initSettings struct {
	userConfigPath string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.userConfigPath = path
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	initErr    error
)

// Initialize loads configuration using the precedence:
// defaults < user config < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.GetBool(key)
}

// GetDuration fetches a duration configuration value, initializing on demand.
func GetDuration(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetDuration(key)
}

// IsSet reports whether key has a value from any source other than defaults.
func IsSet(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.IsSet(key)
}

// Set updates a configuration key at runtime, initializing on demand.
func Set(key string, value any) error {
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	configInst.Set(key, value)
	return nil
}

// StateDir returns the directory holding downloads, the journal, and the
// debug log, with a leading ~ expanded.
func StateDir() (string, error) {
	dir := strings.TrimSpace(GetString(KeyStateDir))
	if dir == "" {
		return defaultStateDir()
	}
	return expandHome(dir)
}

// ManifestURL returns the manifest location. The dev source is only
// considered when allowDev is true; production builds pass false.
func ManifestURL(allowDev bool) string {
	if allowDev && GetBool(KeyUseDevSource) {
		if dev := strings.TrimSpace(GetString(KeyDevManifestURL)); dev != "" {
			return dev
		}
	}
	return strings.TrimSpace(GetString(KeyManifestURL))
}

// AutoCheckInterval returns the scheduler interval; zero disables
// automatic checks. Negative values are treated as zero.
func AutoCheckInterval() time.Duration {
	d := GetDuration(KeyAutoCheckInterval)
	if d < 0 {
		return 0
	}
	return d
}

func configure(settings *initSettings) error {
	userConfigPath := strings.TrimSpace(settings.userConfigPath)
	if userConfigPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return err
		}
		userConfigPath = path
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userConfigPath); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads the user config file
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, ".hatch"), nil
}

func defaultUserConfigPath() (string, error) {
	dir, err := defaultStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyManifestURL, DefaultManifestURL)
	v.SetDefault(KeyDevManifestURL, "")
	v.SetDefault(KeyUseDevSource, false)
	v.SetDefault(KeyPublicKey, "")
	v.SetDefault(KeyPublicKeyFile, "")
	v.SetDefault(KeyAutoCheckInterval, DefaultAutoCheckInterval)
	v.SetDefault(KeyAutoDownload, false)
	v.SetDefault(KeyCheckOnStart, true)
	v.SetDefault(KeyStateDir, "")
	v.SetDefault(KeyMountPoint, DefaultMountPoint)
	v.SetDefault(KeyDebug, false)
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	initErr = nil
	configOnce = sync.Once{}
}

// ResetForTesting clears package state for tests in other packages and
// initializes from an empty user config inside a temp directory.
// Returns a cleanup function that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(WithUserConfig(filepath.Join(tmp, "config.yaml")))
	return reset
}
