// Package config loads the TOML configuration file and merges it with
// explicitly-set CLI flags, CLI taking precedence only where the flag was
// actually passed by the user.
package config

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// IPVersion selects which socket families the connection manager binds.
type IPVersion string

const (
	IPv4      IPVersion = "ipv4"
	IPv6      IPVersion = "ipv6"
	DualStack IPVersion = "dualstack"
)

// Config is the fully-resolved set of knobs the connection manager and
// CLI entrypoint need, after merging the config file and CLI flags.
type Config struct {
	Port      uint16
	NoTUI     bool
	Dir       string
	Bridges   []string
	Room      string
	IPVersion IPVersion
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 0)
	v.SetDefault("no_tui", false)
	v.SetDefault("bridge", []string{})
	v.SetDefault("room", "")
	v.SetDefault("ip_version", string(DualStack))
}

// Load reads configFile (if it exists; a missing file is not an error)
// and merges it with flags, honoring flags only where pflag reports them
// as explicitly Changed by the user.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				slog.Info("no config file found, using defaults and flags", "path", configFile)
			} else {
				return nil, fmt.Errorf("config: read %s: %w", configFile, err)
			}
		}
	}

	overrideIfChanged := func(key, flagName string) {
		if flags == nil {
			return
		}
		f := flags.Lookup(flagName)
		if f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	overrideIfChanged("port", "port")
	overrideIfChanged("no_tui", "no-tui")
	overrideIfChanged("room", "room")
	overrideIfChanged("ip_version", "ip-version")
	if flags != nil {
		if f := flags.Lookup("bridge"); f != nil && f.Changed {
			if bridges, err := flags.GetStringArray("bridge"); err == nil {
				v.Set("bridge", bridges)
			}
		}
	}

	ipVersion := IPVersion(v.GetString("ip_version"))
	switch ipVersion {
	case IPv4, IPv6, DualStack:
	default:
		return nil, fmt.Errorf("config: invalid ip_version %q", ipVersion)
	}

	return &Config{
		Port:      uint16(v.GetUint32("port")),
		NoTUI:     v.GetBool("no_tui"),
		Dir:       v.GetString("dir"),
		Bridges:   v.GetStringSlice("bridge"),
		Room:      v.GetString("room"),
		IPVersion: ipVersion,
	}, nil
}
