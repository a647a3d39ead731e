package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvContextAcceptsNonStringValues(t *testing.T) {
	var req struct {
		Ctx  ConvContext      `json:"ctx"`
		Msgs []InboundMessage `json:"msgs"`
	}
	err := json.Unmarshal([]byte(`{"ctx":{"platform_id":12,"username":"alice","history_count":5,"vip":true,"extra":{"a":1},"gone":null},"msgs":[]}`), &req)
	require.NoError(t, err)

	assert.Equal(t, "12", req.Ctx.Get(CtxPlatformID))
	assert.Equal(t, "alice", req.Ctx.Get(CtxUsername))
	assert.Equal(t, "5", req.Ctx.Get(CtxHistoryCount))
	assert.Equal(t, "true", req.Ctx.Get("vip"))
	assert.JSONEq(t, `{"a":1}`, req.Ctx.Get("extra"))
	_, ok := req.Ctx["gone"]
	assert.False(t, ok)
}

func TestConvContextNullAndInvalid(t *testing.T) {
	var c ConvContext
	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.Nil(t, c)
	assert.Equal(t, "", c.Get(CtxUsername))

	assert.Error(t, json.Unmarshal([]byte(`"not an object"`), &c))
}
