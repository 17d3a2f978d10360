package resolve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue(t *testing.T) {
	raw := json.RawMessage(`{"id":"123","message":{"attachment_id":"987"},"items":[{"n":1},{"n":2}]}`)

	tests := []struct {
		name string
		path string
		want any
	}{
		{name: "root field", path: "$.id", want: "123"},
		{name: "without dollar", path: "id", want: "123"},
		{name: "nested", path: "$.message.attachment_id", want: "987"},
		{name: "array index", path: "$.items.1.n", want: float64(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Value(raw, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValue_WholeDocument(t *testing.T) {
	got, err := Value(json.RawMessage(`{"id":"1"}`), "$")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "1"}, got)
}

func TestValue_Errors(t *testing.T) {
	_, err := Value(json.RawMessage(`{"id":"1"}`), "$.missing")
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = Value(json.RawMessage(`not json`), "$.id")
	assert.Error(t, err)
}

func TestFill(t *testing.T) {
	body := json.RawMessage(`{"recipient":{"id":"u1"},"message":{"attachment":{"type":"image","payload":{}}}}`)

	out, err := Fill(body, "$.message.attachment.payload.attachment_id", "987")
	require.NoError(t, err)
	assert.JSONEq(t, `{"recipient":{"id":"u1"},"message":{"attachment":{"type":"image","payload":{"attachment_id":"987"}}}}`, string(out))
	assert.NotContains(t, string(body), "987", "the draft body is left untouched")
}

func TestFill_EmptyBody(t *testing.T) {
	out, err := Fill(nil, "$.id", 5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":5}`, string(out))

	_, err = Fill(nil, "$", 5)
	assert.Error(t, err)
}
