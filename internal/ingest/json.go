package ingest

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"safeguard/internal/normalize"
)

var errNotObject = errors.New("json record is not an object")

func ParseJSONBytes(data []byte) (*normalize.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return ParseJSONMap(m), nil
}

// ParseJSONMap flattens nested objects into dotted lower-case keys.
func ParseJSONMap(obj map[string]any) *normalize.Fields {
	fields := &normalize.Fields{Values: map[string]string{}}
	flatten("", obj, fields.Values)
	return fields
}

func flatten(prefix string, obj map[string]any, out map[string]string) {
	for key, val := range obj {
		k := strings.ToLower(key)
		if prefix != "" {
			k = prefix + "." + k
		}
		switch v := val.(type) {
		case nil:
		case map[string]any:
			flatten(k, v, out)
		case string:
			out[k] = v
		case json.Number:
			out[k] = v.String()
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(v)
		}
	}
}
