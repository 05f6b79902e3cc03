package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeReply(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "plain string", body: `"hello there"`, want: "hello there"},
		{name: "output field", body: `{"output":"hi"}`, want: "hi"},
		{name: "array of strings", body: `["hello"]`, want: "hello"},
		{name: "unknown fields stringified", body: `{"foo":"bar"}`, want: `{"foo":"bar"}`},
		{name: "unparsable body", body: `not json`, want: "not json"},
		{name: "response wins over output", body: `{"output":"o","response":"r"}`, want: "r"},
		{name: "precedence order", body: `{"answer":"a","text":"t","message":"m"}`, want: "m"},
		{name: "text before answer", body: `{"answer":"a","text":"t"}`, want: "t"},
		{name: "answer last", body: `{"answer":"a","other":1}`, want: "a"},
		{name: "empty response skipped", body: `{"response":"","output":"fallback"}`, want: "fallback"},
		{name: "null and false skipped", body: `{"response":null,"output":false,"text":"t"}`, want: "t"},
		{name: "non-string field value", body: `{"response":{"a": 1}}`, want: `{"a":1}`},
		{name: "all falsy stringifies object", body: `{ "response": "", "b": [1, 2] }`, want: `{"response":"","b":[1,2]}`},
		{name: "array of objects", body: `[{"output":"first"},{"output":"second"}]`, want: "first"},
		{name: "array of numbers", body: `[42, 1]`, want: "42"},
		{name: "empty array", body: `[]`, want: "[]"},
		{name: "scalar", body: `12.5`, want: "12.5"},
		{name: "whitespace around string", body: "  \"spaced\"\n", want: "spaced"},
		{name: "empty body", body: ``, want: ""},
		{name: "truncated json", body: `{"output":`, want: `{"output":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeReply([]byte(tt.body)))
		})
	}
}

func TestParseReply_Kinds(t *testing.T) {
	assert.Equal(t, ReplyString, ParseReply([]byte(`"x"`)).Kind)
	assert.Equal(t, ReplyObject, ParseReply([]byte(`{"a":1}`)).Kind)
	assert.Equal(t, ReplyArray, ParseReply([]byte(`[1]`)).Kind)
	assert.Equal(t, ReplyScalar, ParseReply([]byte(`true`)).Kind)
	assert.Equal(t, ReplyUnparsed, ParseReply([]byte(`<html>`)).Kind)
}

func TestReply_FieldKeepsLastDuplicate(t *testing.T) {
	r := ParseReply([]byte(`{"output":"one","output":"two"}`))
	val, ok := r.Field("output")
	assert.True(t, ok)
	assert.JSONEq(t, `"two"`, string(val))
	assert.Equal(t, "two", r.Text())
}
