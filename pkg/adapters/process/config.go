package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes one allow-listed process a SET_TASK rule may run.
type Config struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Env         map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout"`
}

// ConfigFile is the layout of a tasks file.
type ConfigFile struct {
	Tasks []Config `yaml:"tasks" json:"tasks"`
}

// LoadTasks reads a YAML or JSON tasks file (by extension) keyed by task name.
func LoadTasks(path string) (map[string]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks config: %w", err)
	}

	var cfg ConfigFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	out := make(map[string]Config, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.Name == "" || t.Command == "" {
			return nil, fmt.Errorf("task #%d: name and command are required", i+1)
		}
		if _, dup := out[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task %q", t.Name)
		}
		out[t.Name] = t
	}
	return out, nil
}
