package emitter

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentstudio.dev/deskrec/internal/config"
	"agentstudio.dev/deskrec/internal/logging"
	"agentstudio.dev/deskrec/recorder"
)

// fakeToken completes immediately with err.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

// fakeClient records publications. Unused methods come from the embedded
// interface and panic if called.
type fakeClient struct {
	mqtt.Client
	topic   string
	qos     byte
	payload []byte
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.qos = qos
	c.payload = payload.([]byte)
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool { return false }

type publishCounter struct {
	ok, failed atomic.Int64
}

func (p *publishCounter) ManifestPublished() { p.ok.Add(1) }

func (p *publishCounter) PublishFailed(error) { p.failed.Add(1) }

func testManifest() *recorder.Manifest {
	return &recorder.Manifest{
		StartTime:  1700000000.25,
		StopTime:   1700000002.5,
		FPS:        10,
		FrameCount: 10,
		VideoPath:  "out/run.mp4",
		Width:      1280,
		Height:     720,
	}
}

func TestEncodeManifest(t *testing.T) {
	payload, err := EncodeManifest("epoch-1", testManifest())
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.JSONEq(t, `"epoch-1"`, string(got["epoch_id"]))
	assert.JSONEq(t, `{
		"start_time": 1700000000.25,
		"stop_time": 1700000002.5,
		"fps": 10,
		"frame_count": 10,
		"video_path": "out/run.mp4",
		"width": 1280,
		"height": 720
	}`, string(got["manifest"]))

	_, err = EncodeManifest("x", nil)
	assert.Error(t, err)
}

func TestPublishManifest(t *testing.T) {
	obs := &publishCounter{}
	e := NewMQTTEmitter(config.MQTTConfig{Topic: "lab/pc1/", QoS: 1}, logging.Discard(), obs)
	client := &fakeClient{}
	e.Client = client

	err := e.PublishManifest("epoch-1", testManifest())
	assert.ErrorIs(t, err, ErrNotConnected)

	e.setConnected(true)
	require.NoError(t, e.PublishManifest("epoch-1", testManifest()))
	assert.Equal(t, "lab/pc1/manifests", client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.Contains(t, string(client.payload), `"frame_count":10`)

	st := e.Stats()
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(1), st.Published)
	assert.Equal(t, uint64(1), st.Errors)
	assert.Equal(t, int64(1), obs.ok.Load())
	assert.Equal(t, int64(1), obs.failed.Load())

	e.Disconnect()
	assert.False(t, e.Stats().Connected)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}
