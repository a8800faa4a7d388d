package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/entrhq/courier/pkg/sites"
)

// LoadOptions selects the layers Load reads.
type LoadOptions struct {
	// ConfigFile overrides the config file location. When empty the
	// <PREFIX>_CONFIG variable is consulted, then
	// ~/.config/courier/<site>.json.
	ConfigFile string

	// ConfigDir replaces ~/.config/courier when searching for the default
	// file
	ConfigDir string

	// Flags are bound by option name with underscores spelled as dashes
	// (mfa_timeout -> --mfa-timeout). Only flags that were set override.
	Flags *pflag.FlagSet
}

// Load resolves the configuration of site. Precedence is command-line flag,
// then environment (<PREFIX>_<KEY>, e.g. ATT_CDP_URL), then config file,
// then built-in default.
func Load(site *sites.Site, opts LoadOptions) (*Config, error) {
	cfg := New(site.Name)
	prefix := envPrefix(site)

	v := viper.New()
	for _, s := range cfg.Sections() {
		for key, value := range s.Data() {
			v.SetDefault(key, value)
		}
	}

	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()

	file := opts.ConfigFile
	if file == "" {
		file = os.Getenv(prefix + "_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(ExpandHome(file))
	} else {
		dir := opts.ConfigDir
		if dir == "" {
			dir = filepath.Join("~", ".config", "courier")
		}
		v.SetConfigName(site.Name)
		v.SetConfigType("json")
		v.AddConfigPath(ExpandHome(dir))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	if opts.Flags != nil {
		for _, key := range cfg.Keys() {
			if flag := opts.Flags.Lookup(FlagName(key)); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", flag.Name, err)
				}
			}
		}
	}

	for _, s := range cfg.Sections() {
		data := make(map[string]any)
		for key := range s.Data() {
			data[key] = v.Get(key)
		}
		if err := s.SetData(data); err != nil {
			return nil, fmt.Errorf("%s settings: %w", s.ID(), err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envPrefix(site *sites.Site) string {
	if site.EnvPrefix != "" {
		return strings.ToUpper(site.EnvPrefix)
	}
	return strings.ToUpper(site.Name)
}

// FlagName returns the command-line flag an option is bound to.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
