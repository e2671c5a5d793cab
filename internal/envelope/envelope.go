// Package envelope decodes the {code, message, data} wrapper the backend puts around
// every JSON response body.
package envelope

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Envelope is the decoded wrapper. HasCode is false when the body is not a JSON object
// or carries no numeric code; such bodies are passed through untouched.
type Envelope struct {
	HasCode bool
	Code    int
	Message string
	Data    json.RawMessage
}

// Decode reads the envelope fields from body without unmarshalling the payload.
func Decode(body []byte) Envelope {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return Envelope{}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Envelope{}
	}

	var env Envelope
	if code := root.Get("code"); code.Type == gjson.Number {
		env.HasCode = true
		env.Code = int(code.Int())
	}
	env.Message = root.Get("message").String()
	if data := root.Get("data"); data.Exists() && data.Type != gjson.Null {
		env.Data = json.RawMessage(data.Raw)
	}
	return env
}

// Payload returns the object holding token fields: the data member when it is an
// object, otherwise the whole body.
func Payload(body []byte) gjson.Result {
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.IsObject() {
		return data
	}
	return root
}
