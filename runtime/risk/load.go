package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML schema for external rule tables.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads a YAML rule table and compiles it. The file replaces the
// built-in rules entirely; operators who want to extend the defaults include
// them in the file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("risk: read rules: %w", err)
	}
	return Parse(data)
}

// Parse compiles a YAML rule table from raw bytes.
func Parse(data []byte) (*Table, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("risk: parse rules: %w", err)
	}
	return NewTable(f.Rules)
}
