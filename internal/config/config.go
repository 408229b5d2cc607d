// Package config loads and validates the declarative group definitions.
// The supervision core never parses configuration itself; it consumes
// the resolved GroupConfig values produced here.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/zerrdev/easycli/internal/logger"
	"github.com/zerrdev/easycli/internal/process"
)

// FileConfig is the top-level TOML structure.
//
//	registry_dir = "/var/lib/easycli/procs"   # optional override
//	history_path = "/var/lib/easycli/history.db"
//
//	[log]
//	dir = "/var/log/easycli"
//
//	[[groups]]
//	name = "web"
//	tool = "node"
//	template = "node $1.js --port $port"
//	restart_policy = "always"
//	params = { port = "8080" }
//	items = [
//	  { name = "server", value = "server" },
//	  { name = "worker", value = "worker, --queue, jobs" },
//	]
type FileConfig struct {
	RegistryDir string         `toml:"registry_dir" mapstructure:"registry_dir"`
	HistoryPath string         `toml:"history_path" mapstructure:"history_path"`
	Log         *logger.Config `toml:"log" mapstructure:"log"`
	Groups      []GroupConfig  `toml:"groups" mapstructure:"groups"`
}

type GroupConfig struct {
	Name          string            `toml:"name" mapstructure:"name"`
	Tool          string            `toml:"tool" mapstructure:"tool"`
	Template      string            `toml:"template" mapstructure:"template"`
	RestartPolicy string            `toml:"restart_policy" mapstructure:"restart_policy"`
	Params        map[string]string `toml:"params" mapstructure:"params"`
	Items         []ItemConfig      `toml:"items" mapstructure:"items"`
	Log           *logger.Config    `toml:"log" mapstructure:"log"`
}

type ItemConfig struct {
	Name  string `toml:"name" mapstructure:"name"`
	Value string `toml:"value" mapstructure:"value"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) validate() error {
	seenGroups := make(map[string]bool)
	for _, g := range fc.Groups {
		if g.Name == "" {
			return fmt.Errorf("group without a name")
		}
		if seenGroups[g.Name] {
			return fmt.Errorf("duplicate group name %q", g.Name)
		}
		seenGroups[g.Name] = true
		if _, err := process.ParseRestartPolicy(g.RestartPolicy); err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		if len(g.Items) == 0 {
			return fmt.Errorf("group %q has no items", g.Name)
		}
		seenItems := make(map[string]bool)
		for _, it := range g.Items {
			if it.Name == "" {
				return fmt.Errorf("group %q: item without a name", g.Name)
			}
			if seenItems[it.Name] {
				return fmt.Errorf("group %q: duplicate item name %q", g.Name, it.Name)
			}
			seenItems[it.Name] = true
		}
	}
	return nil
}

// Group resolves a group by name.
func (fc *FileConfig) Group(name string) (*GroupConfig, error) {
	for i := range fc.Groups {
		if fc.Groups[i].Name == name {
			return &fc.Groups[i], nil
		}
	}
	return nil, fmt.Errorf("unknown group %q", name)
}

// CaptureConfig returns the effective capture-log config for a group:
// the group override when present, else the global one, else zero.
func (fc *FileConfig) CaptureConfig(g *GroupConfig) logger.Config {
	if g.Log != nil {
		return *g.Log
	}
	if fc.Log != nil {
		return *fc.Log
	}
	return logger.Config{}
}
