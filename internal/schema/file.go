package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/telltale/internal/prop"
)

// fileVersion is the schema file format this loader understands.
const fileVersion = 1

type schemaFile struct {
	Version    int            `yaml:"version"`
	Properties []propertyFile `yaml:"properties"`
}

type propertyFile struct {
	Prop  int32      `yaml:"prop"`
	Type  string     `yaml:"type"`
	Areas []areaFile `yaml:"areas"`
}

type areaFile struct {
	Area     int32    `yaml:"area"`
	MinInt32 *int32   `yaml:"min_int32"`
	MaxInt32 *int32   `yaml:"max_int32"`
	MinInt64 *int64   `yaml:"min_int64"`
	MaxInt64 *int64   `yaml:"max_int64"`
	MinFloat *float32 `yaml:"min_float"`
	MaxFloat *float32 `yaml:"max_float"`
}

// LoadFile reads a YAML schema file and builds the Schema from it.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Schema from YAML schema-file bytes.
func Parse(data []byte) (*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("unsupported schema file version %d", f.Version)
	}
	if len(f.Properties) == 0 {
		return nil, fmt.Errorf("schema file declares no properties")
	}

	configs := make([]prop.Config, 0, len(f.Properties))
	for i, p := range f.Properties {
		typ, err := prop.ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("property %d (0x%x): %w", i, uint32(p.Prop), err)
		}
		cfg := prop.Config{Prop: p.Prop, Type: typ}
		for _, a := range p.Areas {
			cfg.Areas = append(cfg.Areas, prop.AreaConfig{
				Area:     a.Area,
				MinInt32: a.MinInt32,
				MaxInt32: a.MaxInt32,
				MinInt64: a.MinInt64,
				MaxInt64: a.MaxInt64,
				MinFloat: a.MinFloat,
				MaxFloat: a.MaxFloat,
			})
		}
		configs = append(configs, cfg)
	}
	return New(configs)
}
