package tokenpipe

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
)

// Envelope describes one outgoing API request.
type Envelope struct {
	Method string
	// Path is relative to Config.Transport.BaseURL, or an absolute URL.
	Path   string
	Params url.Values
	Header http.Header
	Body   []byte
	// Public skips credential handling even if Path is not in Config.PublicPaths.
	Public bool
	// RetryCount is 0 on the first attempt and 1 on the single retry after a renewal.
	RetryCount int
	// RequestID defaults to the context's ID or a new UUID.
	RequestID string
}

func (e *Envelope) clone() *Envelope {
	out := *e
	out.Header = e.Header.Clone()
	if e.Params != nil {
		out.Params = make(url.Values, len(e.Params))
		for k, v := range e.Params {
			out.Params[k] = append([]string(nil), v...)
		}
	}
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	return &out
}

// Response is a successful response with its envelope fields decoded.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// HasCode is false when the body carried no envelope; Code, Message and Data are then empty.
	HasCode bool
	Code    int
	Message string
	Data    json.RawMessage

	RequestID string
	// Retried is true when the response came from the retry after a renewal.
	Retried bool
}

// DecodeData unmarshals the envelope's data member, or the whole body when there is no
// envelope, into out.
func (r *Response) DecodeData(out any) error {
	if r == nil {
		return errors.New("nil response")
	}
	raw := []byte(r.Data)
	if !r.HasCode {
		raw = r.Body
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
