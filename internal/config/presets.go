package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is one sample research topic offered by the UI.
type Preset struct {
	Title string `yaml:"title" json:"title"`
	Query string `yaml:"query" json:"query"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// defaultPresets back the UI when no presets file is deployed.
var defaultPresets = []Preset{
	{Title: "Quantum computing & cryptography", Query: "Research the current state of studies on quantum computing applications in cryptography"},
	{Title: "Sustainable energy storage", Query: "Investigate recent developments in sustainable energy storage technologies"},
	{Title: "CRISPR therapeutics", Query: "Explore the latest research on CRISPR gene editing and its therapeutic applications"},
	{Title: "AI for climate mitigation", Query: "Research advances in artificial intelligence for climate change mitigation"},
	{Title: "Marine microplastics", Query: "Study the current understanding of microplastic pollution in marine ecosystems"},
	{Title: "Data sovereignty", Query: "Research on Data Sovereignty & Digital Borders"},
}

// LoadPresets reads sample topics from a YAML file. An empty path or a
// missing file yields the built-in defaults.
func LoadPresets(path string) ([]Preset, error) {
	if path == "" {
		return defaultPresets, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultPresets, nil
		}
		return nil, fmt.Errorf("read presets %s: %w", path, err)
	}
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	if len(pf.Presets) == 0 {
		return defaultPresets, nil
	}
	return pf.Presets, nil
}
