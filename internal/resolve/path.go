package resolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrPathNotFound is returned when a path matches nothing in a result.
var ErrPathNotFound = errors.New("path not found in result")

// gjsonPath converts a "$.a.b" style expression to gjson syntax.
// "$" and "" select the whole document.
func gjsonPath(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	return p
}

// Value extracts the value at path from a JSON result. Paths look like
// "$.id", "$.message.attachment_id" or "$.items.0"; the leading "$." is
// optional.
func Value(raw json.RawMessage, path string) (any, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("resolve: result is not valid JSON")
	}

	p := gjsonPath(path)
	if p == "" {
		return gjson.ParseBytes(raw).Value(), nil
	}

	res := gjson.GetBytes(raw, p)
	if !res.Exists() {
		return nil, fmt.Errorf("%w: %q", ErrPathNotFound, path)
	}
	return res.Value(), nil
}

// Fill sets field (in "$.a.b" form) of a JSON body to value and returns the
// updated body.
func Fill(body json.RawMessage, field string, value any) (json.RawMessage, error) {
	p := gjsonPath(field)
	if p == "" {
		return nil, fmt.Errorf("resolve: empty field path")
	}
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	out, err := sjson.SetBytes(append([]byte(nil), body...), p, value)
	if err != nil {
		return nil, fmt.Errorf("resolve: fill %q: %w", field, err)
	}
	return out, nil
}
