package session

import (
	"strings"
	"testing"

	"github.com/harun/novellama/pkg/translation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		data := []byte(`{
  "systemPrompt": "Translate to French.",
  "references": ["Glossary: chat = cat"],
  "translations": [{"source": "hello", "translation": "bonjour"}]
}`)
		rec, err := DecodeRecord(data)
		require.NoError(t, err)
		assert.Equal(t, "Translate to French.", rec.SystemPrompt)
		assert.Equal(t, []string{"Glossary: chat = cat"}, rec.References)
		assert.Equal(t, []translation.Entry{{Source: "hello", Translation: "bonjour"}}, rec.Translations)
	})

	t.Run("missing fields default to empty", func(t *testing.T) {
		rec, err := DecodeRecord([]byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, EmptyRecord(), rec)
	})

	invalid := map[string]string{
		"empty":               "",
		"not json":            "{not json",
		"array":               `[]`,
		"wrong prompt type":   `{"systemPrompt": 3}`,
		"wrong reference":     `{"references": [1]}`,
		"entry missing key":   `{"translations": [{"source": "a"}]}`,
		"entry wrong type":    `{"translations": [{"source": "a", "translation": 2}]}`,
		"translations object": `{"translations": {}}`,
	}
	for name, data := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestEncodeRecord(t *testing.T) {
	t.Run("nil slices encode as empty arrays", func(t *testing.T) {
		data, err := EncodeRecord(Record{})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"references": []`)
		assert.Contains(t, string(data), `"translations": []`)
	})

	t.Run("non-ascii and markup stored verbatim", func(t *testing.T) {
		rec := Record{
			Translations: []translation.Entry{{Source: "<b>猫</b>", Translation: "<b>cat</b> & dog"}},
		}
		data, err := EncodeRecord(rec)
		require.NoError(t, err)
		assert.Contains(t, string(data), "<b>猫</b>")
		assert.Contains(t, string(data), "<b>cat</b> & dog")
		assert.True(t, strings.Contains(string(data), "\n  \""), "indented with two spaces")
	})

	t.Run("encode then decode", func(t *testing.T) {
		rec := Record{
			SystemPrompt: "p",
			References:   []string{"r1", "r2"},
			Translations: []translation.Entry{{Source: "a", Translation: "b"}},
		}
		data, err := EncodeRecord(rec)
		require.NoError(t, err)
		got, err := DecodeRecord(data)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})
}
