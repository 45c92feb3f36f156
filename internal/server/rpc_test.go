package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcCall(t *testing.T, h http.Handler, body string) map[string]interface{} {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/rpc", body)
	require.Equal(t, http.StatusOK, rec.Code)
	return decode(t, rec)
}

func rpcErrorCode(t *testing.T, resp map[string]interface{}) float64 {
	t.Helper()
	e, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "expected error in %v", resp)
	return e["code"].(float64)
}

func TestJSONRPCSessionFlow(t *testing.T) {
	_, h := newTestServer(t)

	resp := rpcCall(t, h, `{"jsonrpc":"2.0","id":1,"method":"session.create","params":{"early_stop_threshold":0.05}}`)
	require.Nil(t, resp["error"])
	assert.Equal(t, 1.0, resp["id"])
	id := resp["result"].(map[string]interface{})["session_id"].(string)

	for _, metric := range []string{"1.0", "0.5"} {
		resp = rpcCall(t, h, `{"jsonrpc":"2.0","id":2,"method":"session.step","params":[{"session_id":"`+id+`","metric":`+metric+`}]}`)
		require.Nil(t, resp["error"])
	}
	resp = rpcCall(t, h, `{"jsonrpc":"2.0","id":3,"method":"session.step","params":{"session_id":"`+id+`","metric":0.04}}`)
	require.Nil(t, resp["error"])
	state := resp["result"].(map[string]interface{})["state"].(map[string]interface{})
	assert.Equal(t, true, state["should_stop"])
	assert.Equal(t, 1.0, state["iter_term"])
	assert.Equal(t, 0.5, state["best"])

	resp = rpcCall(t, h, `{"jsonrpc":"2.0","id":4,"method":"session.status","params":{"session_id":"`+id+`"}}`)
	require.Nil(t, resp["error"])
	assert.Equal(t, id, resp["result"].(map[string]interface{})["session_id"])

	resp = rpcCall(t, h, `{"jsonrpc":"2.0","id":5,"method":"session.delete","params":{"session_id":"`+id+`"}}`)
	require.Nil(t, resp["error"])

	resp = rpcCall(t, h, `{"jsonrpc":"2.0","id":6,"method":"session.status","params":{"session_id":"`+id+`"}}`)
	assert.Equal(t, float64(rpcServerError), rpcErrorCode(t, resp))
}

func TestJSONRPCErrors(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, rpcParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"session.create","params":{}}`, rpcInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"session.explode","params":{}}`, rpcMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"session.create"}`, rpcInvalidParams},
		{"empty params array", `{"jsonrpc":"2.0","id":1,"method":"session.create","params":[]}`, rpcInvalidParams},
		{"invalid config", `{"jsonrpc":"2.0","id":1,"method":"session.create","params":{"factor":-1}}`, rpcInvalidParams},
		{"step without session", `{"jsonrpc":"2.0","id":1,"method":"session.step","params":{"metric":1}}`, rpcInvalidParams},
		{"status without session", `{"jsonrpc":"2.0","id":1,"method":"session.status","params":{}}`, rpcInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpcCall(t, h, tt.body)
			assert.Equal(t, float64(tt.code), rpcErrorCode(t, resp))
		})
	}
}
