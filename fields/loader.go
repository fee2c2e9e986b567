package fields

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

type catalogFile struct {
	Fields []FieldMapping `yaml:"fields"`
}

// LoadCatalog reads a YAML field catalog from disk. Transforms are referenced
// by name and resolved against the transform registry.
//
//	fields:
//	  - label: Work Phone
//	    source: contact.workPhone
//	    directory: telephoneNumber
//	    transform: phone
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse field catalog: %w", err)
	}
	if len(file.Fields) == 0 {
		return nil, fmt.Errorf("field catalog declares no fields")
	}

	for i := range file.Fields {
		name := file.Fields[i].TransformName
		if name == "" {
			continue
		}
		fn, ok := LookupTransform(name)
		if !ok {
			return nil, fmt.Errorf("field %q: unknown transform %q (known: %v)", file.Fields[i].Label, name, TransformNames())
		}
		file.Fields[i].Transform = fn
	}

	catalog := NewCatalog(file.Fields...)
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field catalog: %w", err)
	}
	return catalog, nil
}
