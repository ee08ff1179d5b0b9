package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// RecordSchema is the JSON Schema a stored session record must satisfy.
// Missing fields are allowed and take their empty defaults.
const RecordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "systemPrompt": {
      "type": "string"
    },
    "references": {
      "type": "array",
      "items": { "type": "string" }
    },
    "translations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "translation"],
        "properties": {
          "source": { "type": "string" },
          "translation": { "type": "string" }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schemaInst *gojsonschema.Schema
	schemaErr  error
)

func recordSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaInst, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(RecordSchema))
	})
	return schemaInst, schemaErr
}

// DecodeRecord validates data against RecordSchema and decodes it.
func DecodeRecord(data []byte) (Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Record{}, fmt.Errorf("empty record")
	}

	schema, err := recordSchema()
	if err != nil {
		return Record{}, fmt.Errorf("failed to compile record schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Record{}, fmt.Errorf("failed to parse record: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Record{}, fmt.Errorf("record does not match schema: %s", strings.Join(msgs, "; "))
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return record.normalized(), nil
}

// EncodeRecord renders record as indented JSON without HTML escaping, so
// non-ASCII and markup in translations are stored verbatim.
func EncodeRecord(record Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record.normalized()); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return buf.Bytes(), nil
}
