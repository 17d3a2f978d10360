package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		checkFunc func(t *testing.T, output string)
	}{
		{
			name:   "Text Logger Info Level",
			config: Config{Level: "info", Format: "text"},
			checkFunc: func(t *testing.T, output string) {
				assert.Contains(t, output, "level=INFO")
				assert.Contains(t, output, `msg="request settled"`)
				assert.NotContains(t, output, "level=DEBUG")
			},
		},
		{
			name:   "JSON Logger Debug Level",
			config: Config{Level: "debug", Format: "json"},
			checkFunc: func(t *testing.T, output string) {
				lines := bytes.Split(bytes.TrimSpace([]byte(output)), []byte("\n"))
				require.Len(t, lines, 2)

				var entry map[string]any
				require.NoError(t, json.Unmarshal(lines[0], &entry))
				assert.Equal(t, "DEBUG", entry["level"])
				assert.Equal(t, "slice acquired", entry["msg"])
			},
		},
		{
			name:   "Unknown Level Falls Back To Info",
			config: Config{Level: "verbose"},
			checkFunc: func(t *testing.T, output string) {
				assert.NotContains(t, output, "slice acquired")
				assert.Contains(t, output, "request settled")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.config, &buf)

			logger.Debug("slice acquired", "count", 3)
			logger.Info("request settled", "requestID", "r1")

			tt.checkFunc(t, buf.String())
		})
	}
}
