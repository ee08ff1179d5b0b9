package session

import (
	"testing"

	"github.com/harun/novellama/pkg/translation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		shouldErr bool
	}{
		{"valid id", "default", false},
		{"valid with colon", "novel:chapter-1", false},
		{"empty id", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"null byte", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if tt.shouldErr {
				assert.ErrorIs(t, err, ErrInvalidSessionID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	t.Run("default driver is file", func(t *testing.T) {
		dir := t.TempDir()
		store, err := Open(Config{Dir: dir})
		require.NoError(t, err)
		defer store.Close()

		fs, ok := store.(*FileStore)
		require.True(t, ok)
		assert.Equal(t, dir, fs.Dir())
	})

	t.Run("sqlite driver", func(t *testing.T) {
		store, err := Open(Config{Driver: DriverSQLite, DSN: ":memory:"})
		require.NoError(t, err)
		defer store.Close()

		_, ok := store.(*SQLiteStore)
		assert.True(t, ok)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(Config{Driver: "redis"})
		assert.Error(t, err)
	})
}

func TestEmptyRecord(t *testing.T) {
	rec := EmptyRecord()
	assert.Equal(t, "", rec.SystemPrompt)
	assert.NotNil(t, rec.References)
	assert.Empty(t, rec.References)
	assert.NotNil(t, rec.Translations)
	assert.Empty(t, rec.Translations)
}

func TestSnapshotAndHydrate(t *testing.T) {
	tc := translation.New(translation.Options{MaxTokens: 1000})
	tc.SetSystemPrompt("prompt")
	tc.SetReferences([]string{"r1"})
	tc.AddTranslation("a", "b")

	rec := Snapshot(tc)
	assert.Equal(t, "prompt", rec.SystemPrompt)
	assert.Equal(t, []string{"r1"}, rec.References)
	assert.Equal(t, []translation.Entry{{Source: "a", Translation: "b"}}, rec.Translations)

	fresh := translation.New(translation.Options{MaxTokens: 1000})
	rec.Hydrate(fresh)
	assert.Equal(t, tc.Render(), fresh.Render())

	empty := Snapshot(translation.New(translation.Options{}))
	assert.Equal(t, EmptyRecord(), empty)
}
