package translog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTripWithDiagnostics(t *testing.T) {
	dir := t.TempDir()
	ckpt := Checkpoint{Generation: 5, NumOps: 42, MinGeneration: 2}
	require.NoError(t, WriteCheckpoint(dir, ckpt, true))

	got, err := ReadCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, ckpt, *got)
}

func TestCheckpointWithoutDiagnosticsDefaultsMinGeneration(t *testing.T) {
	dir := t.TempDir()
	ckpt := Checkpoint{Generation: 5, NumOps: 42}
	require.NoError(t, WriteCheckpoint(dir, ckpt, false))

	got, err := ReadCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.MinGeneration)
}

func TestReadCheckpointMissingFileIsNotExist(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadCheckpoint(dir)
	assert.True(t, os.IsNotExist(err))
}
