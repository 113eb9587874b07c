package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentstudio.dev/deskrec/capture"
	"agentstudio.dev/deskrec/window"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "deskrec.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.FPS)
	assert.Equal(t, SourceScreen, cfg.Capture.Source)
	assert.Equal(t, 8*time.Second, cfg.StartupTimeout())
	assert.Equal(t, time.Second, cfg.WindowSettle())

	p, err := cfg.Capture.LoopPolicy()
	require.NoError(t, err)
	assert.Equal(t, capture.PolicyEveryTick, p)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
fps: 25
output_dir: /tmp/rec
capture:
  source: screen
  width: 1280
  height: 720
  commit_mode: schedule
window:
  kind: none
  settle_ms: -1
video:
  codecs: [mpeg4]
mqtt:
  broker: localhost:1883
  qos: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.FPS)
	assert.Equal(t, 1280, cfg.Capture.Width)
	assert.Equal(t, []string{"mpeg4"}, cfg.Video.Codecs)
	assert.Equal(t, "localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.Equal(t, window.KindNone, cfg.WindowKind())
	assert.Equal(t, time.Duration(-1), cfg.WindowSettle())

	m, err := cfg.Capture.LoopCommitMode()
	require.NoError(t, err)
	assert.Equal(t, capture.CommitOnSchedule, m)
	// defaults survive partial files
	assert.Equal(t, 75, cfg.Preview.JPEGQuality)
}

func TestRemoteForcesStreamSettings(t *testing.T) {
	path := writeConfig(t, `
remote: true
window:
  kind: xdotool
capture:
  remote_url: ws://10.0.0.2:8080/ws
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, cfg.Capture.Source)
	assert.Equal(t, "none", cfg.Window.Kind)
	assert.Equal(t, "latest", cfg.Capture.Policy)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DESKREC_FPS", "500")
	t.Setenv("DESKREC_FFMPEG", "/opt/ffmpeg")
	t.Setenv("DESKREC_PREVIEW_ADDR", ":9000")
	t.Setenv("DESKREC_REMOTE", "yes")
	t.Setenv("DESKREC_REMOTE_URL", "ws://host/ws")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.FPS)
	assert.Equal(t, "/opt/ffmpeg", cfg.Video.FFmpegPath)
	assert.Equal(t, ":9000", cfg.Preview.Addr)
	assert.Equal(t, SourceRemote, cfg.Capture.Source)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"unknown source": "capture:\n  source: webcam\n",
		"remote no url":  "capture:\n  source: remote\n",
		"half region":    "capture:\n  width: 100\n",
		"bad policy":     "capture:\n  policy: sometimes\n",
		"bad commit":     "capture:\n  commit_mode: never\n",
		"bad window":     "window:\n  kind: kwin\n",
		"bad qos":        "mqtt:\n  qos: 3\n",
		"fps too high":   "fps: 1000\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "fps: [1, 2"))
	assert.Error(t, err)
}

func TestIntEnvClamped(t *testing.T) {
	t.Setenv("DESKREC_TEST_INT", "abc")
	assert.Equal(t, 7, IntEnvClamped("DESKREC_TEST_INT", 7, 1, 10))
	t.Setenv("DESKREC_TEST_INT", "-4")
	assert.Equal(t, 1, IntEnvClamped("DESKREC_TEST_INT", 7, 1, 10))
}

func TestBoolEnv(t *testing.T) {
	t.Setenv("DESKREC_TEST_BOOL", "off")
	assert.False(t, BoolEnv("DESKREC_TEST_BOOL", true))
	t.Setenv("DESKREC_TEST_BOOL", "maybe")
	assert.True(t, BoolEnv("DESKREC_TEST_BOOL", true))
}
