package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// maxProbeBody bounds how much of a probe response is read.
const maxProbeBody = 4 << 20

// ErrNotJSON means a response body was neither declared nor sniffed as JSON.
var ErrNotJSON = errors.New("response is not JSON")

// ParseError is a JSON syntax or type error in an otherwise successful
// response. It is distinct from transport errors.
type ParseError struct {
	ContentType string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s response: %v", e.ContentType, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeJSON decodes resp's body into a T. It trusts a JSON content type and
// otherwise sniffs the body for a leading object or array. On any failure it
// returns fallback together with ErrNotJSON, a *ParseError or the read error.
func DecodeJSON[T any](resp *http.Response, fallback T) (T, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return fallback, fmt.Errorf("failed to read response: %w", err)
	}
	return decodeJSONBytes(body, resp.Header.Get("Content-Type"), fallback)
}

func decodeJSONBytes[T any](body []byte, contentType string, fallback T) (T, error) {
	trimmed := bytes.TrimSpace(body)
	if !isJSONContentType(contentType) && !looksLikeJSON(trimmed) {
		return fallback, ErrNotJSON
	}
	if len(trimmed) == 0 {
		return fallback, &ParseError{ContentType: contentType, Err: io.ErrUnexpectedEOF}
	}

	var out T
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return fallback, &ParseError{ContentType: contentType, Err: err}
	}
	return out, nil
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || (len(mediaType) > 5 && mediaType[len(mediaType)-5:] == "+json")
}

func looksLikeJSON(b []byte) bool {
	return len(b) > 0 && (b[0] == '{' || b[0] == '[')
}
