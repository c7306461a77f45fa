package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"scaffold/api/model"
)

// ManifestFile is the manifest each installed plugin directory carries.
const ManifestFile = "plugin.yml"

var ErrManifestMismatch = errors.New("plugin manifest does not match installation")

// Defaults are installed for every service whether or not the resource
// enabled them.
var Defaults = []model.PluginInstallation{
	{PluginID: "db-postgres", NPM: "@scaffold/plugin-db-postgres", Enabled: true},
	{PluginID: "auth-core", NPM: "@scaffold/plugin-auth-core", Enabled: true},
}

// Manifest describes what an installed plugin contributes to generation.
type Manifest struct {
	ID        string            `yaml:"id"`
	NPM       string            `yaml:"npm"`
	Version   string            `yaml:"version"`
	Templates map[string]string `yaml:"templates"` // output path -> template text
}

// Plugin is a resolved installation, with its manifest when one is installed.
type Plugin struct {
	model.PluginInstallation
	Manifest *Manifest
}

// WithDefaults returns the installations plus every default plugin the
// resource did not already list.
func WithDefaults(installed []model.PluginInstallation) []model.PluginInstallation {
	out := append([]model.PluginInstallation(nil), installed...)
	seen := make(map[string]bool, len(installed))
	for _, p := range installed {
		seen[p.NPM] = true
	}
	for _, d := range Defaults {
		if !seen[d.NPM] {
			out = append(out, d)
		}
	}
	return out
}

// Installer resolves plugins against a directory of installed plugins laid
// out as <dir>/<pluginId>/plugin.yml.
type Installer struct {
	Dir string
}

// Install resolves every enabled plugin. A plugin without a manifest
// contributes nothing; a manifest that cannot be read or names another
// plugin fails the whole stage.
func (i *Installer) Install(installs []model.PluginInstallation) ([]Plugin, error) {
	var out []Plugin
	for _, p := range installs {
		if !p.Enabled {
			continue
		}
		m, err := i.manifest(p.PluginID)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p.PluginID, err)
		}
		if m != nil && m.NPM != "" && m.NPM != p.NPM {
			return nil, fmt.Errorf("%w: %s is %s, installation wants %s", ErrManifestMismatch, p.PluginID, m.NPM, p.NPM)
		}
		out = append(out, Plugin{PluginInstallation: p, Manifest: m})
	}
	return out, nil
}

func (i *Installer) manifest(pluginID string) (*Manifest, error) {
	if i.Dir == "" || pluginID == "" || filepath.Base(pluginID) != pluginID {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(i.Dir, pluginID, ManifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	if m.ID != "" && m.ID != pluginID {
		return nil, fmt.Errorf("%w: manifest id %q", ErrManifestMismatch, m.ID)
	}
	return &m, nil
}
