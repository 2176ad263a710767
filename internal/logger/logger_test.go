package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).Named("coordinator")
	l.Infow("granted", "worker", 3, "start", uint64(100))
	require.NoError(t, l.Close())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "granted", entry["msg"])
	assert.Equal(t, "coordinator", entry["logger"])
	assert.EqualValues(t, 3, entry["worker"])
}

func TestSetVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.SetVerbose(true)
	l.With("run", "x").Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Infof("nothing %d", 1)
	l.SetVerbose(true)
	assert.NoError(t, l.Close())
}
