package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/synapkit/synapd/internal/plugin"
	"github.com/synapkit/synapd/plugins/pybridge"
)

// pluginsFile declares additional out-of-process plugin instances:
//
//	plugins:
//	  - name: bridge.sentiment
//	    command: python3
//	    script_path: sentiment.py
type pluginsFile struct {
	Plugins []declaredPlugin `yaml:"plugins"`
}

type declaredPlugin struct {
	Name       string `yaml:"name"`
	Command    string `yaml:"command"`
	ScriptPath string `yaml:"script_path"`
	ScriptsDir string `yaml:"scripts_dir"`
}

// registerDeclaredPlugins loads the plugins file and registers one bridge
// factory per declared entry. Values from the file seed the instance
// config; persisted plugin_configs still override at bootstrap.
func registerDeclaredPlugins(manager *plugin.Manager, path, defaultScriptsDir string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plugins file: %w", err)
	}
	var decl pluginsFile
	if err := yaml.Unmarshal(raw, &decl); err != nil {
		return fmt.Errorf("parse plugins file: %w", err)
	}

	for _, entry := range decl.Plugins {
		if entry.Name == "" {
			return fmt.Errorf("plugins file: entry without a name")
		}
		declared := entry
		factory := plugin.Factory(func(ctx context.Context, cfg plugin.Config) (plugin.Plugin, error) {
			values := map[string]string{
				"command":     declared.Command,
				"script_path": declared.ScriptPath,
				"scripts_dir": declared.ScriptsDir,
			}
			if values["scripts_dir"] == "" {
				values["scripts_dir"] = defaultScriptsDir
			}
			// Persisted config wins over the declaration.
			for key, value := range cfg.Values {
				values[key] = value
			}
			cfg.Values = values
			return pybridge.New(ctx, cfg)
		})
		if err := manager.RegisterFactory(declared.Name, factory); err != nil {
			return err
		}
	}
	return nil
}
