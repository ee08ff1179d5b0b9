package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerRecord(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLogger(&buf)

	a.Record(context.Background(), AuditEvent{
		Type:     "session",
		Actor:    "chapter-1",
		Action:   "translator.set_references",
		Status:   "success",
		Metadata: map[string]interface{}{"count": 2},
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "session", line["type"])
	assert.Equal(t, "chapter-1", line["actor"])
	assert.Equal(t, "translator.set_references", line["action"])
	assert.Equal(t, "success", line["status"])
	assert.NotContains(t, line, "trace_id")

	metadata, ok := line["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), metadata["count"])
}

func TestInitAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))

	RecordSessionAudit(context.Background(), "translator.set_system_prompt", "default", errors.New("disk full"), nil)
	RecordSecurityAudit(context.Background(), "gateway.auth", "client-1", false, nil)

	require.NoError(t, CloseAuditLogger())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "failure", first["status"])
	assert.Equal(t, "disk full", first["metadata"].(map[string]interface{})["error"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "security", second["type"])
	assert.Equal(t, "client-1", second["actor"])

	// After close, events are discarded rather than written to the closed file.
	RecordSecurityAudit(context.Background(), "gateway.auth", "client-2", true, nil)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, after)
}
