package tabular

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Row schemas guard reloads of externally edited files: a person with the
// file open in office software can leave a row without an id or type noise
// into a numeric cell, and such a row must not poison the cache. Schemas are
// applied to the raw cell values before typed decoding.

const storyRowSchema = `{
	"type": "object",
	"required": ["ID"],
	"properties": {
		"ID": {"type": "string", "minLength": 1},
		"DonationAmount": {"type": "string", "pattern": "^\\s*-?[0-9]+([.][0-9]+)?\\s*$|^\\s*$"},
		"DonorCount": {"type": "string", "pattern": "^\\s*-?[0-9]+\\s*$|^\\s*$"}
	}
}`

const donationRowSchema = `{
	"type": "object",
	"required": ["ID"],
	"properties": {
		"ID": {"type": "string", "minLength": 1},
		"Amount": {"type": "string", "pattern": "^\\s*-?[0-9]+([.][0-9]+)?\\s*$|^\\s*$"}
	}
}`

const collaborationRowSchema = `{
	"type": "object",
	"required": ["ID"],
	"properties": {
		"ID": {"type": "string", "minLength": 1}
	}
}`

const statusUpdateRowSchema = `{
	"type": "object",
	"required": ["ID"],
	"properties": {
		"ID": {"type": "string", "minLength": 1}
	}
}`

type rowSchemas struct {
	byKind map[Kind]*jsonschema.Schema
}

func compileRowSchemas() (*rowSchemas, error) {
	sources := map[Kind]string{
		KindStory:         storyRowSchema,
		KindDonation:      donationRowSchema,
		KindCollaboration: collaborationRowSchema,
		KindStatusUpdate:  statusUpdateRowSchema,
	}
	compiler := jsonschema.NewCompiler()
	for kind, source := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("row schema for %s: %w", kind, err)
		}
		if err := compiler.AddResource(schemaURL(kind), doc); err != nil {
			return nil, fmt.Errorf("row schema for %s: %w", kind, err)
		}
	}
	compiled := &rowSchemas{byKind: make(map[Kind]*jsonschema.Schema, len(sources))}
	for kind := range sources {
		schema, err := compiler.Compile(schemaURL(kind))
		if err != nil {
			return nil, fmt.Errorf("row schema for %s: %w", kind, err)
		}
		compiled.byKind[kind] = schema
	}
	return compiled, nil
}

func schemaURL(kind Kind) string {
	return fmt.Sprintf("portal:///rows/%s.schema.json", kind)
}

// validateRow checks one raw file row against the kind's schema. The row is
// presented as a column-name-to-cell document.
func (s *rowSchemas) validateRow(kind Kind, row []string) error {
	if s == nil {
		return nil
	}
	schema, ok := s.byKind[kind]
	if !ok {
		return nil
	}
	columns := columnsFor(kind)
	padded := padRow(row, len(columns))
	doc := make(map[string]any, len(columns))
	for i, col := range columns {
		doc[col.Name] = padded[i]
	}
	return schema.Validate(doc)
}
