package bridge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportCandidatesPlain(t *testing.T) {
	require := require.New(t)

	creds := &Credentials{URL: "mqtt.example.com", Port: 1883, Protocol: "tcp"}
	cands := transportCandidates(creds)
	require.Len(cands, 3)
	assert.Equal(t, "tcp://mqtt.example.com:1883", cands[0].broker)
	assert.Equal(t, "mqtt.example.com:1883", cands[1].broker)
	assert.Equal(t, "tcp://mqtt.example.com:1883", cands[2].broker)
	for _, c := range cands {
		assert.Nil(t, c.tls)
	}
}

func TestTransportCandidatesSecure(t *testing.T) {
	require := require.New(t)

	creds := &Credentials{URL: "mqtt.example.com", Port: 8883, Protocol: "mqtts"}
	cands := transportCandidates(creds)
	require.Len(cands, 5)
	assert.Equal(t, "mqtts://mqtt.example.com:8883", cands[0].broker)
	assert.Equal(t, "tls-noverify", cands[3].label)
	assert.Equal(t, "tls-relaxed", cands[4].label)
	require.NotNil(cands[3].tls)
	require.NotNil(cands[4].tls)
	assert.True(t, cands[3].tls.InsecureSkipVerify)
}

func TestTransportCandidatesDefaultScheme(t *testing.T) {
	creds := &Credentials{URL: "broker", Port: 1883}
	cands := transportCandidates(creds)
	assert.Equal(t, "tcp://broker:1883", cands[0].broker)
}

func TestClientOptions(t *testing.T) {
	creds := &Credentials{Account: "acc", Password: "pw", URL: "broker", Port: 8883, Protocol: "mqtts"}
	cand := transportCandidates(creds)[3]

	opts := clientOptions(creds, cand, "ANDROID_user_0001")
	assert.Equal(t, "acc", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, "ANDROID_user_0001", opts.ClientID)
	assert.False(t, opts.AutoReconnect)
	assert.NotNil(t, opts.TLSConfig)
}

func TestNewClientID(t *testing.T) {
	id := newClientID("u123")
	assert.True(t, strings.HasPrefix(id, "ANDROID_u123_"))
	assert.Len(t, id, len("ANDROID_u123_")+4)
}
