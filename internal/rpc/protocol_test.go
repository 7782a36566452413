package rpc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadRequestShapes(t *testing.T) {
	cmd, payload, err := readRequest(newConnReader(strings.NewReader("navigate {\"path\":\"/a\"}\n")))
	require.NoError(t, err)
	require.Equal(t, "navigate", cmd)
	require.JSONEq(t, `{"path":"/a"}`, string(payload))

	// bare command defaults to an empty payload
	cmd, payload, err = readRequest(newConnReader(strings.NewReader("ping\n")))
	require.NoError(t, err)
	require.Equal(t, "ping", cmd)
	require.JSONEq(t, `{}`, string(payload))

	_, _, err = readRequest(newConnReader(strings.NewReader("\n")))
	require.Error(t, err)
}

func TestReadReplyCollectsFragmentsAndAnswer(t *testing.T) {
	raw := "starting capture\n{\"answer\":{\"found\":true}}\nreticulating\nOK\n"
	rep, err := readReply(strings.NewReader(raw), isReplayToken)
	require.NoError(t, err)
	require.True(t, rep.sawOK)
	require.Equal(t, []string{"starting capture", "reticulating"}, rep.fragments)
	require.JSONEq(t, `{"found":true}`, string(rep.answer))
	require.Empty(t, rep.token)
}

func TestReadReplyToken(t *testing.T) {
	rep, err := readReply(strings.NewReader("relogin\nOK\n"), isReplayToken)
	require.NoError(t, err)
	require.Equal(t, CmdRelogin, rep.token)

	// unknown bare words stay ordinary fragments
	rep, err = readReply(strings.NewReader("warming_up\nOK\n"), isReplayToken)
	require.NoError(t, err)
	require.Empty(t, rep.token)
	require.Equal(t, []string{"warming_up"}, rep.fragments)
}

func TestReadReplyRemoteError(t *testing.T) {
	_, err := readReply(strings.NewReader("{\"error\":\"boom\"}\nOK\n"), isReplayToken)
	require.ErrorContains(t, err, "remote: boom")
}

func TestReadReplyMissingSentinel(t *testing.T) {
	_, err := readReply(strings.NewReader("{\"answer\":{}}\n"), isReplayToken)
	require.ErrorContains(t, err, "before OK sentinel")
}
