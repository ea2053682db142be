package device

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-share-backend/internal/errs"
)

type recordingPublisher struct {
	topics   []string
	payloads []string
	err      error
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, string(payload))
	return p.err
}

func TestMQTTRelay(t *testing.T) {
	pub := &recordingPublisher{}
	relay := NewMQTTRelay(pub, "shellies/plug-1/relay/0/command")

	code, err := relay.SetRelay(context.Background(), On)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	_, err = relay.SetRelay(context.Background(), Off)
	require.NoError(t, err)

	assert.Equal(t, []string{"on", "off"}, pub.payloads)
	assert.Equal(t, "shellies/plug-1/relay/0/command", pub.topics[0])
}

func TestMQTTRelayPublishFailure(t *testing.T) {
	relay := NewMQTTRelay(&recordingPublisher{err: errors.New("not connected")}, "t")

	_, err := relay.SetRelay(context.Background(), On)
	assert.ErrorIs(t, err, errs.ErrDeviceUnavailable)
}
