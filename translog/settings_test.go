package translog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/translog/segment"
)

func TestParseSettingsAllKeys(t *testing.T) {
	yamlDoc := []byte(`
index.translog.durability: ASYNC
index.translog.fs.type: SIMPLE
index.translog.fs.buffer_size: 128K
index.translog.sync_interval: 2s
index.translog.checkpoint_diagnostics: "true"
`)
	s, err := ParseSettings(yamlDoc)
	require.NoError(t, err)

	assert.Equal(t, Async, s.Durability)
	assert.Equal(t, segment.Simple, s.FSType)
	assert.Equal(t, 128*1024, s.BufferSize)
	assert.Equal(t, 2*time.Second, s.SyncInterval)
	assert.True(t, s.CheckpointDiagnostics)
}

func TestParseSettingsDefaultsOnUnrecognizedValue(t *testing.T) {
	s, err := ParseSettings([]byte(`index.translog.durability: SOMETIMES`))
	require.NoError(t, err)
	assert.Equal(t, DefaultDurability, s.Durability)
}

func TestParseSettingsEmptyDocumentUsesDefaults(t *testing.T) {
	s, err := ParseSettings([]byte(``))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestParseByteSizePlainInteger(t *testing.T) {
	n, err := parseByteSize("65536")
	require.NoError(t, err)
	assert.Equal(t, 65536, n)
}

func TestParseByteSizeHumanUnit(t *testing.T) {
	n, err := parseByteSize("1M")
	require.NoError(t, err)
	assert.Equal(t, 1024*1024, n)
}
