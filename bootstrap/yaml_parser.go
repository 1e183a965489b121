package bootstrap

import (
	"github.com/goccy/go-yaml"
)

// YAMLManifestParser implements ManifestParser for YAML.
type YAMLManifestParser struct{}

// NewYAMLManifestParser creates a new YAMLManifestParser.
func NewYAMLManifestParser() ManifestParser {
	return &YAMLManifestParser{}
}

// Parse unmarshals YAML bytes into a Manifest struct.
func (p *YAMLManifestParser) Parse(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
