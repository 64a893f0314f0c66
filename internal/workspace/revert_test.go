package workspace

import (
	"context"
	"testing"

	"botvault/internal/errors"
	"botvault/internal/testutil"
	"botvault/shared/types"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevert_RestoresEarlierRevision(t *testing.T) {
	ws := setupWorkspace(t)
	ctx := context.Background()

	write(t, ws, "flows/main.flow", "A")
	r1 := commit(t, ws)
	write(t, ws, "flows/main.flow", "B")
	r2 := commit(t, ws)
	require.Equal(t, "r1", r1[0].ID)
	require.Equal(t, "r2", r2[0].ID)

	rev, err := ws.Revert(ctx, "flows/main.flow", "r1")
	require.NoError(t, err)

	assert.Equal(t, "r3", rev.ID)
	assert.Equal(t, shared.OriginRevert, rev.Origin)
	assert.Equal(t, r1[0].Hash, rev.Hash)
	assert.Equal(t, "A", read(t, ws, "flows/main.flow"))
	assert.Empty(t, pending(t, ws))

	history, err := ws.History(ctx, "flows/main.flow")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, *rev, history[2])

	f, err := ws.Stat(ctx, "flows/main.flow")
	require.NoError(t, err)
	assert.Equal(t, "r3", f.RevisionID)
}

func TestRevert_UnknownRevisionChangesNothing(t *testing.T) {
	ws := setupWorkspace(t)
	ctx := context.Background()

	write(t, ws, "flows/main.flow", "A")
	commit(t, ws)
	write(t, ws, "flows/main.flow", "B")

	for _, id := range []string{"rX", "r9", "", "1", "r01", "r0001"} {
		_, err := ws.Revert(ctx, "flows/main.flow", id)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound), "id %q: %v", id, err)
	}

	assert.Equal(t, "B", read(t, ws, "flows/main.flow"))
	history, err := ws.History(ctx, "flows/main.flow")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, []shared.PendingChange{
		{Path: "flows/main.flow", Kind: shared.ChangeModified, SinceRevision: "r1"},
	}, pending(t, ws))
}

func TestRevert_RevisionOfAnotherPath(t *testing.T) {
	ws := setupWorkspace(t)
	write(t, ws, "a.txt", "a")
	commit(t, ws)

	_, err := ws.Revert(context.Background(), "b.txt", "r1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRevert_InvalidPath(t *testing.T) {
	ws := setupWorkspace(t)
	_, err := ws.Revert(context.Background(), "../a.txt", "r1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidPath))
}

func TestRevert_DiscardsUncommittedChanges(t *testing.T) {
	ws := setupWorkspace(t)

	write(t, ws, "a.txt", "a")
	commit(t, ws)
	write(t, ws, "a.txt", "scratch")

	rev, err := ws.Revert(context.Background(), "a.txt", "r1")
	require.NoError(t, err)
	assert.Equal(t, "r2", rev.ID)
	assert.Equal(t, "a", read(t, ws, "a.txt"))
	assert.Empty(t, pending(t, ws))
}

func TestRevert_RecreatesDeletedFile(t *testing.T) {
	ws := setupWorkspace(t)
	ctx := context.Background()

	write(t, ws, "a.txt", "a")
	commit(t, ws)
	_, err := ws.Delete(ctx, "a.txt")
	require.NoError(t, err)
	commit(t, ws)

	rev, err := ws.Revert(ctx, "a.txt", "r1")
	require.NoError(t, err)
	assert.Equal(t, "r3", rev.ID)
	assert.Equal(t, "a", read(t, ws, "a.txt"))
	assert.Empty(t, pending(t, ws))
}

func TestRevert_ToDeletion(t *testing.T) {
	ws := setupWorkspace(t)
	ctx := context.Background()

	write(t, ws, "a.txt", "a")
	commit(t, ws)
	_, err := ws.Delete(ctx, "a.txt")
	require.NoError(t, err)
	commit(t, ws)
	write(t, ws, "a.txt", "back")
	commit(t, ws)

	rev, err := ws.Revert(ctx, "a.txt", "r2")
	require.NoError(t, err)
	assert.True(t, rev.Deleted)
	assert.Equal(t, "r4", rev.ID)

	_, _, err = ws.Read(ctx, "a.txt")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Empty(t, pending(t, ws))
}

func TestRevert_ToCurrentRevision(t *testing.T) {
	t.Run("appends by default", func(t *testing.T) {
		ws := setupWorkspace(t)
		write(t, ws, "a.txt", "a")
		commit(t, ws)

		rev, err := ws.Revert(context.Background(), "a.txt", "r1")
		require.NoError(t, err)
		assert.Equal(t, "r2", rev.ID)
		assert.Equal(t, shared.OriginRevert, rev.Origin)
	})

	t.Run("no-op when configured", func(t *testing.T) {
		ws := setupWorkspace(t, func(o *Options) { o.RevertNoop = true })
		write(t, ws, "a.txt", "a")
		commit(t, ws)

		rev, err := ws.Revert(context.Background(), "a.txt", "r1")
		require.NoError(t, err)
		assert.Equal(t, "r1", rev.ID)

		history, err := ws.History(context.Background(), "a.txt")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("no-op option still discards pending edits", func(t *testing.T) {
		ws := setupWorkspace(t, func(o *Options) { o.RevertNoop = true })
		write(t, ws, "a.txt", "a")
		commit(t, ws)
		write(t, ws, "a.txt", "edited")

		rev, err := ws.Revert(context.Background(), "a.txt", "r1")
		require.NoError(t, err)
		assert.Equal(t, "r2", rev.ID)
		assert.Equal(t, "a", read(t, ws, "a.txt"))
	})
}

func TestRevert_WriteTransactionIgnoresBlobWriters(t *testing.T) {
	ws := setupWorkspace(t)

	write(t, ws, "flows/main.flow", "A")
	commit(t, ws)
	write(t, ws, "flows/main.flow", "B")
	commit(t, ws)

	var target *shared.Revision
	require.NoError(t, ws.db.View(func(txn *badger.Txn) error {
		var err error
		target, err = ws.revisions.Get(txn, "flows/main.flow", "r1")
		return err
	}))

	txn := ws.db.NewTransaction(true)
	defer txn.Discard()
	rev, err := ws.restore(txn, target, testutil.FixedClock().Now())
	require.NoError(t, err)
	assert.Equal(t, "r3", rev.ID)

	// Same content on another path rewrites the blob the restore points at.
	write(t, ws, "flows/copy.flow", "A")
	require.NoError(t, txn.Commit())

	assert.Equal(t, "A", read(t, ws, "flows/main.flow"))
	assert.Equal(t, []shared.PendingChange{
		{Path: "flows/copy.flow", Kind: shared.ChangeAdded},
	}, pending(t, ws))
}
