package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	tokenpipe "github.com/MrEthical07/tokenpipe"
)

// RoundTripper sends requests through a tokenpipe.Client. Error statuses come back as
// responses, as http.RoundTripper requires; session loss, transport failures and
// envelope failure codes come back as errors.
type RoundTripper struct {
	client *tokenpipe.Client
}

// NewRoundTripper wraps client.
func NewRoundTripper(client *tokenpipe.Client) *RoundTripper {
	return &RoundTripper{client: client}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt == nil || rt.client == nil {
		return nil, tokenpipe.ErrClientNotReady
	}

	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = data
	}

	header := req.Header.Clone()
	// The pipeline owns the Authorization header.
	header.Del("Authorization")

	resp, err := rt.client.Do(req.Context(), &tokenpipe.Envelope{
		Method:    req.Method,
		Path:      req.URL.String(),
		Header:    header,
		Body:      body,
		RequestID: req.Header.Get(tokenpipe.RequestIDHeader),
	})
	if err != nil {
		var herr *tokenpipe.HTTPError
		if errors.As(err, &herr) {
			return newResponse(req, herr.StatusCode, nil, herr.Body), nil
		}
		return nil, err
	}
	return newResponse(req, resp.StatusCode, resp.Header, resp.Body), nil
}

func newResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
