package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	l.Info("lead captured", "lead_id", 42, "source", "landing")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "lead captured", entry["msg"])
	assert.Equal(t, "42", entry["lead_id"])
	assert.Equal(t, "landing", entry["source"])
	assert.Equal(t, "2026-01-02T03:04:05Z", entry["time"])
}

func TestLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN)

	l.Debug("noise")
	l.Info("noise")
	assert.Empty(t, buf.String())

	l.Warn("kept")
	assert.Contains(t, buf.String(), `"msg":"kept"`)
}

func TestLogger_RedactsPII(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG)

	l.Info("sent", "email", "john.doe@example.com", "phone", "+1 (555) 123-4567", "note", "reply to jane@example.com")

	out := buf.String()
	assert.NotContains(t, out, "john.doe@example.com")
	assert.Contains(t, out, "jo***@example.com")
	assert.Contains(t, out, "***4567")
	assert.Contains(t, out, "ja***@example.com")
}

func TestLogger_RedactionDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG)
	l.SetRedactPII(false)

	l.Info("sent", "email", "john.doe@example.com")
	assert.Contains(t, buf.String(), "john.doe@example.com")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" error ", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***4567", RedactPhone("555-123-4567"))
	assert.Equal(t, "***", RedactPhone("123"))
}
