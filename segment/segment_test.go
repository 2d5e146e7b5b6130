package segment

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/translog/record"
)

func encodeDelete(t *testing.T, uid string) []byte {
	t.Helper()
	buf, err := record.Encode(&record.OpDelete{UIDField: "_id", UIDText: uid, Version: 1})
	require.NoError(t, err)
	return buf
}

func TestWriterAppendAndReadAt(t *testing.T) {
	dir := t.TempDir()
	var released []int64
	release := func(gen int64, path string) { released = append(released, gen) }

	w, err := CreateWriter(dir, 1, Simple, DefaultBufferSize, release)
	require.NoError(t, err)

	loc1, err := w.Append(encodeDelete(t, "a"))
	require.NoError(t, err)
	loc2, err := w.Append(encodeDelete(t, "b"))
	require.NoError(t, err)
	assert.True(t, loc1.Less(loc2))

	op, err := w.ReadAt(loc1.Offset, loc1.Size)
	require.NoError(t, err)
	assert.Equal(t, "a", op.(*record.OpDelete).UIDText)

	require.NoError(t, w.Close())
	assert.Equal(t, []int64{1}, released)
}

func TestWriterRollProducesReadableReader(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateWriter(dir, 1, Buffered, 4096, nil)
	require.NoError(t, err)

	locs := make([]Location, 0, 3)
	for i := 0; i < 3; i++ {
		loc, err := w.Append(encodeDelete(t, string(rune('a'+i))))
		require.NoError(t, err)
		locs = append(locs, loc)
	}

	r, err := w.Roll()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, int64(3), r.TotalOperations())

	it := r.ChannelSnapshot()
	var count int
	for {
		_, loc, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, locs[count], loc)
		count++
	}
	assert.Equal(t, 3, count)
	require.NoError(t, r.Close())
}

func TestReaderOpenReadsBackPatchedHeader(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateWriter(dir, 7, Simple, DefaultBufferSize, nil)
	require.NoError(t, err)
	_, err = w.Append(encodeDelete(t, "x"))
	require.NoError(t, err)
	_, err = w.Roll()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := FileName(dir, 7)
	r, err := Open(path, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(7), r.Generation())
	assert.Equal(t, int64(1), r.TotalOperations())
}

func TestChannelRefcountFiresReleaseOnce(t *testing.T) {
	dir := t.TempDir()
	var releases int
	release := func(gen int64, path string) { releases++ }

	w, err := CreateWriter(dir, 1, Simple, DefaultBufferSize, release)
	require.NoError(t, err)
	r, err := w.Roll()
	require.NoError(t, err)

	clone := r.Clone()
	require.NoError(t, w.Close()) // writer's own ref
	assert.Equal(t, 0, releases)  // r and clone still hold refs

	require.NoError(t, r.Close())
	assert.Equal(t, 0, releases)

	require.NoError(t, clone.Close())
	assert.Equal(t, 1, releases)
}

func TestLiveReaderObservesAppendsAfterItWasTaken(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateWriter(dir, 1, Buffered, 4096, nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(encodeDelete(t, "a"))
	require.NoError(t, err)

	live := w.LiveReader()
	defer live.Close()

	_, err = w.Append(encodeDelete(t, "b"))
	require.NoError(t, err)

	it := live.ChannelSnapshot()
	var seen []string
	for {
		op, _, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, op.(*record.OpDelete).UIDText)
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestSnapshotReaderIsFrozenAtCreation(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateWriter(dir, 1, Buffered, 4096, nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(encodeDelete(t, "a"))
	require.NoError(t, err)

	frozen := w.SnapshotReader()
	defer frozen.Close()

	_, err = w.Append(encodeDelete(t, "b"))
	require.NoError(t, err)

	it := frozen.ChannelSnapshot()
	var seen []string
	for {
		op, _, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, op.(*record.OpDelete).UIDText)
	}
	assert.Equal(t, []string{"a"}, seen)
}

func TestFindGenerationsSortsAscendingAndIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	for _, gen := range []int64{3, 1, 2} {
		w, err := CreateWriter(dir, gen, Simple, DefaultBufferSize, nil)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "translog.ckp"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))

	found, err := FindGenerations(dir)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{found[0].Gen, found[1].Gen, found[2].Gen})
}
