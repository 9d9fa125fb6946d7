package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition file formats accepted by ParseDefinition.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// LoadDefinition reads a workflow file, picking the decoder from its extension.
func LoadDefinition(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErrorf(ErrCodeNotFound, "read workflow %s", path).WithCause(err)
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	def, err := ParseDefinition(data, format)
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}

// ParseDefinition decodes a workflow definition in the given format.
func ParseDefinition(data []byte, format string) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &def)
	case FormatYAML:
		err = yaml.Unmarshal(data, &def)
	default:
		return nil, NewErrorf(ErrCodeValidation, "unsupported definition format %q", format)
	}
	if err != nil {
		return nil, NewErrorf(ErrCodeValidation, "decode %s definition: %s", format, err.Error()).WithCause(err)
	}
	return &def, nil
}
