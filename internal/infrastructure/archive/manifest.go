package archive

import (
	"fmt"
	"path"
	"runtime"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Manifest entries searched in order
var manifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.toml", "manifest.json"}

// Manifest describes a package archive
type Manifest struct {
	Package string   `yaml:"package" toml:"package" json:"package"`
	Name    string   `yaml:"name" toml:"name" json:"name"`
	Version string   `yaml:"version" toml:"version" json:"version"`
	ABIs    []string `yaml:"abis" toml:"abis" json:"abis"`
	System  bool     `yaml:"system" toml:"system" json:"system"`
	Icon    string   `yaml:"icon" toml:"icon" json:"icon"`
}

// DisplayName returns the label, falling back to the package id
func (m Manifest) DisplayName() string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return m.Package
}

// SupportsABI reports whether any declared ABI runs on goarch.
// Archives without native code declare no ABIs and run everywhere.
func (m Manifest) SupportsABI(goarch string) bool {
	if len(m.ABIs) == 0 {
		return true
	}
	accepted := abisFor(goarch)
	for _, abi := range m.ABIs {
		for _, ok := range accepted {
			if strings.EqualFold(strings.TrimSpace(abi), ok) {
				return true
			}
		}
	}
	return false
}

// SupportsHost reports whether the archive runs on this machine
func (m Manifest) SupportsHost() bool {
	return m.SupportsABI(runtime.GOARCH)
}

func abisFor(goarch string) []string {
	switch goarch {
	case "arm64":
		return []string{"arm64-v8a", "armeabi-v7a", "armeabi"}
	case "arm":
		return []string{"armeabi-v7a", "armeabi"}
	case "amd64":
		return []string{"x86_64", "x86"}
	case "386":
		return []string{"x86"}
	default:
		return nil
	}
}

func parseManifest(name string, data []byte) (Manifest, error) {
	var m Manifest
	var err error

	switch path.Ext(name) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	case ".toml":
		err = toml.Unmarshal(data, &m)
	case ".json":
		err = sonic.Unmarshal(data, &m)
	default:
		return m, fmt.Errorf("unsupported manifest format: %s", name)
	}
	if err != nil {
		return m, fmt.Errorf("parse %s: %w", name, err)
	}

	m.Package = strings.TrimSpace(m.Package)
	if m.Package == "" {
		return m, fmt.Errorf("%s: %w", name, ErrNoPackage)
	}
	return m, nil
}
