package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassifiesRequest(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	require.NoError(t, err)
	assert.Equal(t, KindRequest, msg.Kind)
	assert.True(t, msg.HasID())
	assert.Equal(t, "initialize", msg.Method)
}

func TestParseClassifiesNotification(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","method":"initialized","params":{}}`))
	require.NoError(t, err)
	assert.Equal(t, KindNotification, msg.Kind)
	assert.False(t, msg.HasID())
}

func TestParseClassifiesNotificationWithNullID(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":null,"method":"$/cancelRequest","params":{}}`))
	require.NoError(t, err)
	assert.Equal(t, KindNotification, msg.Kind)
	assert.False(t, msg.HasID())
}

func TestParseClassifiesResponse(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"result":{"capabilities":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, msg.Kind)
}

func TestParseClassifiesErrorResponse(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"method not found"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, msg.Kind)
	require.NotNil(t, msg.Error)
	assert.Equal(t, -32601, msg.Error.Code)
}

func TestParseClassifiesUnknown(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0"}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, msg.Kind)
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestRawPreservesOriginalBytes(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"shutdown"}`)
	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, msg.Raw())
}

func TestNewErrorResponse(t *testing.T) {
	data, err := NewErrorResponse([]byte("7"), InternalErrorCode, "boom")
	require.NoError(t, err)

	reparsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, KindResponse, reparsed.Kind)
	require.NotNil(t, reparsed.Error)
	assert.Equal(t, InternalErrorCode, reparsed.Error.Code)
	assert.Equal(t, "boom", reparsed.Error.Message)
}

func TestNewNullResultResponse(t *testing.T) {
	data, err := NewNullResultResponse([]byte("42"))
	require.NoError(t, err)

	reparsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, KindResponse, reparsed.Kind)
	assert.Equal(t, "null", string(reparsed.Result))
}
