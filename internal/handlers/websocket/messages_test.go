package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboundKinds(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"hello", `{"type":"hello","version":1,"audio_params":{"format":"opus","sample_rate":16000}}`, "hello"},
		{"listen", `{"type":"listen","state":"start","mode":"auto"}`, "listen"},
		{"abort", `{"type":"abort","reason":"wake_word_detected"}`, "abort"},
		{"iot", `{"type":"iot","descriptors":[{"name":"lamp","description":"台灯"}]}`, "iot"},
		{"tool_reply", `{"type":"tool_reply","request_id":3,"payload":{"ok":true}}`, "tool_reply"},
		{"goodbye", `{"type":"goodbye"}`, "goodbye"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseInbound([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, msg.kind())
		})
	}
}

func TestParseInboundFieldDecoding(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"listen","state":"text","text":"今天天气怎么样"}`))
	require.NoError(t, err)

	lm, ok := msg.(ListenMessage)
	require.True(t, ok)
	assert.Equal(t, "text", lm.State)
	assert.Equal(t, "今天天气怎么样", lm.Text)
}

func TestParseInboundRejectsUnknownAndMalformed(t *testing.T) {
	_, err := ParseInbound([]byte(`{"type":"telemetry"}`))
	assert.Error(t, err)

	_, err = ParseInbound([]byte(`{not json`))
	assert.Error(t, err)
}
