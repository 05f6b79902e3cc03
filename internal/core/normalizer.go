package core

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// replyFields are probed in order on an object reply.
var replyFields = []string{"response", "output", "message", "text", "answer"}

type ReplyKind int

const (
	ReplyUnparsed ReplyKind = iota
	ReplyString
	ReplyObject
	ReplyArray
	ReplyScalar
)

// ReplyField is one member of an object reply, in document order.
type ReplyField struct {
	Key   string
	Value json.RawMessage
}

// Reply is the responder body classified by its top-level JSON shape.
type Reply struct {
	Kind ReplyKind
	// Str holds the decoded value of a ReplyString.
	Str    string
	Fields []ReplyField
	Items  []json.RawMessage
	// Raw is the body itself: the original text for ReplyUnparsed and the
	// trimmed JSON text otherwise.
	Raw []byte
}

func ParseReply(body []byte) Reply {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return Reply{Kind: ReplyUnparsed, Raw: body}
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return Reply{Kind: ReplyString, Str: s, Raw: trimmed}
		}
	case '{':
		if fields, err := decodeFields(trimmed); err == nil {
			return Reply{Kind: ReplyObject, Fields: fields, Raw: trimmed}
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			return Reply{Kind: ReplyArray, Items: items, Raw: trimmed}
		}
	default:
		return Reply{Kind: ReplyScalar, Raw: trimmed}
	}
	return Reply{Kind: ReplyUnparsed, Raw: body}
}

// NormalizeReply extracts the display text from a responder body.
func NormalizeReply(body []byte) string {
	return ParseReply(body).Text()
}

func (r Reply) Text() string {
	switch r.Kind {
	case ReplyString:
		return r.Str
	case ReplyObject:
		return r.objectText()
	case ReplyArray:
		if len(r.Items) == 0 {
			return "[]"
		}
		first := ParseReply(r.Items[0])
		switch first.Kind {
		case ReplyString, ReplyObject:
			return first.Text()
		}
		return compactJSON(r.Items[0])
	case ReplyScalar:
		return compactJSON(r.Raw)
	}
	return string(r.Raw)
}

// Field returns the value of key. A repeated key resolves to its last
// occurrence, as a JSON decoder into a map would.
func (r Reply) Field(key string) (json.RawMessage, bool) {
	var (
		val   json.RawMessage
		found bool
	)
	for _, f := range r.Fields {
		if f.Key == key {
			val, found = f.Value, true
		}
	}
	return val, found
}

func (r Reply) objectText() string {
	for _, key := range replyFields {
		val, ok := r.Field(key)
		if !ok || !truthy(val) {
			continue
		}
		var s string
		if err := json.Unmarshal(val, &s); err == nil {
			return s
		}
		return compactJSON(val)
	}
	return compactJSON(r.Raw)
}

func decodeFields(data []byte) ([]ReplyField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var fields []ReplyField
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		fields = append(fields, ReplyField{Key: key, Value: val})
	}
	return fields, nil
}

// truthy treats null, false, zero, and empty strings, arrays, and objects as
// absent values.
func truthy(val json.RawMessage) bool {
	v := compactJSON(val)
	switch v {
	case "", "null", "false", `""`, "[]", "{}":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f != 0
	}
	return true
}

func compactJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return string(bytes.TrimSpace(data))
	}
	return buf.String()
}
