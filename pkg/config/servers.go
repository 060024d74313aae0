package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/kettle/pkg/resolver"
)

// ServerSpec names the configuration of one constituent of a multi-server
type ServerSpec struct {
	ConfigName string `yaml:"config_name"`
	ConfigPath string `yaml:"config_path"`
}

// ServersFile is the layout of a multi-server spec file
type ServersFile struct {
	Servers map[string]ServerSpec `yaml:"servers"`
}

// LoadServers reads a multi-server spec file. An empty config_path defaults to
// the directory holding the spec file, and an empty config_name to the key.
func LoadServers(path string) (map[string]ServerSpec, error) {
	return Loader{}.LoadServers(path)
}

// LoadServers reads a multi-server spec file
func (l Loader) LoadServers(path string) (map[string]ServerSpec, error) {
	r := l.resolver()
	data, err := r.File(path)
	if err != nil {
		return nil, err
	}

	rendered, err := render(path, data, r)
	if err != nil {
		return nil, err
	}

	var f ServersFile
	if err := yaml.Unmarshal(rendered, &f); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}
	if len(f.Servers) == 0 {
		return nil, fmt.Errorf("servers file %s declares no servers", path)
	}

	dir := filepath.Dir(r.ExpandPath(path))
	for key, spec := range f.Servers {
		if spec.ConfigName == "" {
			spec.ConfigName = key
		}
		if spec.ConfigPath == "" {
			spec.ConfigPath = dir
		} else if !filepath.IsAbs(spec.ConfigPath) && !strings.HasPrefix(spec.ConfigPath, resolver.RootMarker) {
			spec.ConfigPath = filepath.Join(dir, spec.ConfigPath)
		}
		f.Servers[key] = spec
	}
	return f.Servers, nil
}
