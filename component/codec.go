package component

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// JSON returns a schema-free JSON codec. Any valid JSON document is accepted;
// decoded values use the generic JSON shapes (map[string]any, []any, float64,
// string, bool, nil).
func JSON(id string) Codec {
	return jsonCodec{id: id}
}

type jsonCodec struct {
	id string
}

func (c jsonCodec) Name() string { return "json" }

func (c jsonCodec) Encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.id, err)
	}
	return data, nil
}

func (c jsonCodec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.id, err)
	}
	return value, nil
}

// Schema returns a JSON codec that additionally requires the payload to be an
// object carrying exactly the named fields. Guests evolving a component type
// out of step with the host fail decode instead of corrupting the world.
func Schema(id string, fields ...string) Codec {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return schemaCodec{id: id, fields: sorted}
}

type schemaCodec struct {
	id     string
	fields []string
}

func (c schemaCodec) Name() string {
	return "json-schema:" + fmt.Sprint(c.fields)
}

func (c schemaCodec) Encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.id, err)
	}
	// Round through Decode so an encode of a mismatched value fails loudly
	// on the host side rather than at the guest boundary.
	if _, err := c.Decode(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c schemaCodec) Decode(data []byte) (any, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.id, err)
	}

	for _, field := range c.fields {
		if _, ok := obj[field]; !ok {
			return nil, fmt.Errorf("decode %s: missing field %q", c.id, field)
		}
	}
	if len(obj) != len(c.fields) {
		for name := range obj {
			if !c.has(name) {
				return nil, fmt.Errorf("decode %s: unknown field %q", c.id, name)
			}
		}
	}

	value := make(map[string]any, len(obj))
	for name, raw := range obj {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", c.id, name, err)
		}
		value[name] = v
	}
	return value, nil
}

func (c schemaCodec) has(field string) bool {
	i := sort.SearchStrings(c.fields, field)
	return i < len(c.fields) && c.fields[i] == field
}
