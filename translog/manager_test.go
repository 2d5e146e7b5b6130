package translog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/translog/record"
	"github.com/quiverdb/translog/segment"
)

func testSettings() *Settings {
	s := DefaultSettings()
	s.SyncInterval = 0 // no background scheduler in tests unless a case opts in
	return s
}

func del(t *testing.T, uid string) *record.OpDelete {
	t.Helper()
	return &record.OpDelete{UIDField: "_id", UIDText: uid, Version: 1}
}

func TestCreateAddRead(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	loc, err := m.Add(del(t, "doc-1"))
	require.NoError(t, err)

	op, err := m.Read(loc)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", op.(*record.OpDelete).UIDText)
}

func TestReadRejectsUnknownLocation(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Read(Location{Gen: 99, Offset: 0, Size: 1})
	var invalid *InvalidLocationError
	assert.ErrorAs(t, err, &invalid)
}

// TestCommitDeletesOldGeneration mirrors the S2-style scenario: after
// prepareCommit and commit, the previous generation's file is gone.
func TestCommitDeletesOldGeneration(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Add(del(t, "a"))
	require.NoError(t, err)

	require.NoError(t, m.PrepareCommit())
	assert.Equal(t, int64(2), m.CurrentGeneration())

	gen1Path := filepath.Join(dir, "translog-1.tlog")
	_, err = os.Stat(gen1Path)
	require.NoError(t, err, "generation 1 should still exist before commit")

	_, err = m.Add(del(t, "b"))
	require.NoError(t, err)

	require.NoError(t, m.Commit())

	_, err = os.Stat(gen1Path)
	assert.True(t, os.IsNotExist(err), "generation 1 should be deleted after commit")
}

func TestPrepareCommitTwiceIsIllegalState(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.PrepareCommit())
	err = m.PrepareCommit()
	var illegal *IllegalStateError
	assert.ErrorAs(t, err, &illegal)
}

func TestRollbackClosesEverythingAndRecoverReopens(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)

	_, err = m.Add(del(t, "a"))
	require.NoError(t, err)
	require.NoError(t, m.Sync())
	require.NoError(t, m.Rollback())

	_, err = m.Add(del(t, "b"))
	var illegal *IllegalStateError
	assert.ErrorAs(t, err, &illegal)

	m2, err := Open(ModeRecover, dir, testSettings())
	require.NoError(t, err)
	defer m2.Close()

	snap, err := m2.NewSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	op, _, err := snap.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", op.(*record.OpDelete).UIDText)

	_, _, err = snap.Next()
	assert.Equal(t, io.EOF, err)
}

func TestOpenModeRequiresCheckpoint(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(ModeOpen, dir, testSettings())
	assert.Error(t, err)
}

func TestSnapshotIsFrozenAtCreationTime(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Add(del(t, "a"))
	require.NoError(t, err)

	snap, err := m.NewSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	_, err = m.Add(del(t, "b"))
	require.NoError(t, err)

	var seen []string
	for {
		op, _, err := snap.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, op.(*record.OpDelete).UIDText)
	}
	assert.Equal(t, []string{"a"}, seen)
}

// TestViewObservesAppendsAcrossACommit mirrors the S4-style scenario: a
// view opened before prepareCommit still sees an operation appended to
// the new current generation after the roll.
func TestViewObservesAppendsAcrossACommit(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Add(del(t, "a"))
	require.NoError(t, err)

	view, err := m.NewView()
	require.NoError(t, err)
	defer view.Close()

	require.NoError(t, m.PrepareCommit())

	_, err = m.Add(del(t, "b"))
	require.NoError(t, err)

	snap, err := view.Snapshot()
	require.NoError(t, err)
	defer snap.Close()

	var seen []string
	for {
		op, _, err := snap.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, op.(*record.OpDelete).UIDText)
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

// TestViewKeepsGenerationAliveUntilClosed mirrors the generation-
// retention invariant: a view holding a reference to what becomes the
// committing generation keeps its file on disk past a commit that would
// otherwise delete it.
func TestViewKeepsGenerationAliveUntilClosed(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Add(del(t, "a"))
	require.NoError(t, err)

	view, err := m.NewView()
	require.NoError(t, err)

	require.NoError(t, m.PrepareCommit())
	_, err = m.Add(del(t, "b"))
	require.NoError(t, err)
	require.NoError(t, m.Commit())

	gen1Path := filepath.Join(dir, "translog-1.tlog")
	_, err = os.Stat(gen1Path)
	require.NoError(t, err, "view should keep generation 1 alive")

	require.NoError(t, view.Close())
	_, err = os.Stat(gen1Path)
	assert.True(t, os.IsNotExist(err), "closing the view should allow deletion")
}

// TestViewReportsMinGenAndUnknownTotalWhileLive mirrors the S4 scenario
// where a freshly opened view's minGen matches its anchoring generation.
// TotalOperations stays unknown (-1) the whole time the view includes the
// still-growing current generation, since that reader's count isn't
// pinned down until it rolls.
func TestViewReportsMinGenAndUnknownTotalWhileLive(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Add(del(t, "a"))
	require.NoError(t, err)

	view, err := m.NewView()
	require.NoError(t, err)
	defer view.Close()

	assert.Equal(t, int64(1), view.MinGen())
	assert.Equal(t, segment.UnknownOperations, view.TotalOperations())
	assert.GreaterOrEqual(t, view.SizeInBytes(), int64(0))

	require.NoError(t, m.PrepareCommit())
	_, err = m.Add(del(t, "b"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.MinGen())
	assert.Equal(t, segment.UnknownOperations, view.TotalOperations())
}

func TestStatsReportsUncommittedOperations(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(ModeCreate, dir, testSettings())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Add(del(t, "a"))
	require.NoError(t, err)
	require.NoError(t, m.PrepareCommit())
	_, err = m.Add(del(t, "b"))
	require.NoError(t, err)

	st, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.UncommittedOperations)
	assert.Equal(t, int64(2), st.CurrentGeneration)
}
