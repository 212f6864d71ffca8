package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ExportYAML renders the resolved document, defaults included.
func (d *Document) ExportYAML() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	return out, nil
}

// ExportJSON renders the resolved document as indented JSON.
func (d *Document) ExportJSON() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return out, nil
}
