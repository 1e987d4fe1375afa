// Package catalog describes the UI building blocks a generated page may use.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Component is one permitted building block.
type Component struct {
	Name  string `yaml:"name" json:"name"`
	Usage string `yaml:"usage,omitempty" json:"usage,omitempty"`
}

// Catalog is an ordered list of components. Order is significant: prompts
// list components in catalog order.
type Catalog []Component

// Default returns the built-in shadcn/ui catalog.
func Default() Catalog {
	cat, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return cat
}

// Load reads a catalog from a YAML or JSON file.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a catalog document. JSON input is accepted since it is valid YAML.
func Parse(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, err
	}
	for i := range cat {
		cat[i].Name = strings.TrimSpace(cat[i].Name)
		cat[i].Usage = strings.TrimSpace(cat[i].Usage)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks that every component has a unique, non-empty name.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for i, comp := range c {
		if comp.Name == "" {
			return fmt.Errorf("component %d has no name", i)
		}
		if _, dup := seen[comp.Name]; dup {
			return fmt.Errorf("duplicate component %q", comp.Name)
		}
		seen[comp.Name] = struct{}{}
	}
	return nil
}

// Names returns component names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, comp := range c {
		names[i] = comp.Name
	}
	return names
}
