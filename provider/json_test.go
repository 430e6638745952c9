package provider

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonResponse(contentType, body string) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{StatusCode: 200, Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

func TestDecodeJSON(t *testing.T) {
	fallback := modelList{}

	t.Run("declared json", func(t *testing.T) {
		got, err := DecodeJSON(jsonResponse("application/json; charset=utf-8", `{"data":[{"id":"a"}]}`), fallback)
		require.NoError(t, err)
		require.Len(t, got.Data, 1)
		assert.Equal(t, "a", got.Data[0].ID)
	})

	t.Run("sniffed json", func(t *testing.T) {
		got, err := DecodeJSON(jsonResponse("text/plain", "  \n{\"data\":[]}"), fallback)
		require.NoError(t, err)
		assert.Empty(t, got.Data)
	})

	t.Run("vendor json type", func(t *testing.T) {
		_, err := DecodeJSON(jsonResponse("application/vnd.api+json", `{"data":[]}`), fallback)
		assert.NoError(t, err)
	})

	t.Run("html", func(t *testing.T) {
		got, err := DecodeJSON(jsonResponse("text/html", "<html></html>"), modelList{Data: nil})
		assert.ErrorIs(t, err, ErrNotJSON)
		assert.Nil(t, got.Data)
	})

	t.Run("truncated json", func(t *testing.T) {
		_, err := DecodeJSON(jsonResponse("application/json", `{"data":[`), fallback)
		var perr *ParseError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "application/json", perr.ContentType)
	})

	t.Run("empty body with json type", func(t *testing.T) {
		_, err := DecodeJSON(jsonResponse("application/json", ""), fallback)
		var perr *ParseError
		require.True(t, errors.As(err, &perr))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("wrong shape", func(t *testing.T) {
		_, err := DecodeJSON(jsonResponse("application/json", `{"data":"nope"}`), fallback)
		var perr *ParseError
		assert.True(t, errors.As(err, &perr))
	})
}
