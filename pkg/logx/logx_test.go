package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, b *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "reschedule"))

	log.Debug("dropped")
	log.Info("sweep finished", Int("moved", 3), Duration("took", time.Second), Err(nil))
	log.Warn("store failure", Err(errors.New("disk full")), String("comp", "storage"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "sweep finished", lines[0]["message"])
	assert.Equal(t, "reschedule", lines[0]["comp"])
	assert.EqualValues(t, 3, lines[0]["moved"])
	assert.NotContains(t, lines[0], zerolog.ErrorFieldName)
	assert.Contains(t, lines[0]["caller"], "logx_test.go:")

	assert.Equal(t, "disk full", lines[1][zerolog.ErrorFieldName])
	assert.Equal(t, "storage", lines[1]["comp"], "later field wins")

	assert.False(t, log.Enabled(LevelDebug))
	assert.True(t, log.Enabled(LevelWarn))
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("nothing happens")

	assert.False(t, Nop().IsZero())
	assert.False(t, Nop().Enabled(LevelError))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Level{"": LevelInfo, "DEBUG": LevelDebug, " warning ": LevelWarn, "trace": LevelTrace, "error": LevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
	_, err = ParseLevel("panic")
	assert.Error(t, err)
}

func TestServiceFileSinkFollowsApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "crontrol.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer func() { _ = svc.Close() }()

	log.Info("first")
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("suppressed")
	log.Error("second")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"first"`)
	assert.Contains(t, string(b), `"second"`)
	assert.NotContains(t, string(b), "suppressed")
}
