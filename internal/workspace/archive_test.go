package workspace

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"testing"

	"botvault/internal/archive"
	"botvault/internal/errors"
	"botvault/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enableImport(o *Options) { o.ImportEnabled = true }

func TestExport_Empty(t *testing.T) {
	ws := setupWorkspace(t)

	a, err := ws.Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, archive.ContentType, a.ContentType)
	assert.Regexp(t, `^archive_bot1_\d+\.tgz$`, a.Name)
	assert.NotEmpty(t, a.Data)
	assert.Empty(t, a.Manifest.Entries)

	bundle, err := archive.Unpack(context.Background(), bytes.NewReader(a.Data), 1<<20)
	require.NoError(t, err)
	assert.Empty(t, bundle.Files)
	assert.Equal(t, "bot-1", bundle.Manifest.Tenant)
}

func TestExport_CurrentContent(t *testing.T) {
	ws := setupWorkspace(t)

	write(t, ws, "flows/main.flow", "A")
	commit(t, ws)
	write(t, ws, "flows/main.flow", "B")
	write(t, ws, "intents/greet.json", "{}")

	a, err := ws.Export(context.Background())
	require.NoError(t, err)

	bundle, err := archive.Unpack(context.Background(), bytes.NewReader(a.Data), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"flows/main.flow":    []byte("B"),
		"intents/greet.json": []byte("{}"),
	}, bundle.Files)

	require.Len(t, bundle.Manifest.Entries, 2)
	assert.Equal(t, "r1", bundle.Manifest.Entries[0].Revision)
	assert.Empty(t, bundle.Manifest.Entries[1].Revision)
	assert.NotEmpty(t, bundle.Manifest.ExportID)
}

func TestExport_Cancelled(t *testing.T) {
	ws := setupWorkspace(t)
	write(t, ws, "a.txt", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a, err := ws.Export(ctx)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImport_DisabledByDefault(t *testing.T) {
	ws := setupWorkspace(t)
	write(t, ws, "a.txt", "a")

	exported, err := ws.Export(context.Background())
	require.NoError(t, err)

	_, err = ws.Import(context.Background(), exported.Data)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotImplemented))
	assert.Equal(t, "a", read(t, ws, "a.txt"))
}

func TestImport_RoundTrip(t *testing.T) {
	src := setupWorkspace(t)
	write(t, src, "flows/main.flow", "A")
	write(t, src, "intents/greet.json", "{}")
	commit(t, src)

	exported, err := src.Export(context.Background())
	require.NoError(t, err)

	dst := setupWorkspace(t, enableImport)
	write(t, dst, "flows/main.flow", "old")
	write(t, dst, "stale.txt", "stale")
	commit(t, dst)

	revs, err := dst.Import(context.Background(), exported.Data)
	require.NoError(t, err)
	require.Len(t, revs, 3)
	for _, rev := range revs {
		assert.Equal(t, shared.OriginImport, rev.Origin)
	}

	assert.Equal(t, "flows/main.flow", revs[0].Path)
	assert.Equal(t, "r2", revs[0].ID)
	assert.Equal(t, "intents/greet.json", revs[1].Path)
	assert.Equal(t, "r1", revs[1].ID)
	assert.Equal(t, "stale.txt", revs[2].Path)
	assert.True(t, revs[2].Deleted)

	assert.Equal(t, "A", read(t, dst, "flows/main.flow"))
	assert.Equal(t, "{}", read(t, dst, "intents/greet.json"))
	_, _, err = dst.Read(context.Background(), "stale.txt")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Empty(t, pending(t, dst))

	// Importing the same bundle again changes nothing.
	revs, err = dst.Import(context.Background(), exported.Data)
	require.NoError(t, err)
	assert.Empty(t, revs)
}

func TestImport_InvalidBundleChangesNothing(t *testing.T) {
	ws := setupWorkspace(t, enableImport)
	write(t, ws, "a.txt", "a")
	commit(t, ws)

	_, err := ws.Import(context.Background(), []byte("not an archive"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.Equal(t, "a", read(t, ws, "a.txt"))
	history, err := ws.History(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestImport_TooLarge(t *testing.T) {
	ws := setupWorkspace(t, enableImport, func(o *Options) { o.MaxImportSize = 8 })

	_, err := ws.Import(context.Background(), make([]byte, 16))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestImport_FileOverLimitRejected(t *testing.T) {
	src := setupWorkspace(t, func(o *Options) { o.MaxFileSize = 0 })
	write(t, src, "big.txt", string(make([]byte, 4096)))
	exported, err := src.Export(context.Background())
	require.NoError(t, err)

	dst := setupWorkspace(t, enableImport)
	_, err = dst.Import(context.Background(), exported.Data)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidPath))
	assert.Empty(t, pending(t, dst))
}

func TestImport_BundleLargerThanOneTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("writes a 16 MB archive")
	}
	opts := testOptions()
	opts.MaxFileSize = 1 << 20
	opts.MaxImportSize = 100 << 20
	opts.ImportEnabled = true
	reg := NewRegistry(t.TempDir(), false, opts, nil, nil)
	t.Cleanup(func() { reg.CloseAll() })
	ctx := context.Background()

	src, err := reg.Get(ctx, "bot-src")
	require.NoError(t, err)

	// 40 incompressible files of 400 KB exceed what badger accepts in a
	// single transaction with default options.
	rng := rand.New(rand.NewSource(7))
	files := make(map[string][]byte)
	for i := 0; i < 40; i++ {
		data := make([]byte, 400<<10)
		rng.Read(data)
		path := fmt.Sprintf("f/%02d.bin", i)
		files[path] = data
		_, err := src.Write(ctx, path, data)
		require.NoError(t, err)
	}
	require.Len(t, commit(t, src), 40)

	exported, err := src.Export(ctx)
	require.NoError(t, err)
	require.Greater(t, len(exported.Data), 10<<20)

	dst, err := reg.Get(ctx, "bot-dst")
	require.NoError(t, err)
	revs, err := dst.Import(ctx, exported.Data)
	require.NoError(t, err)
	assert.Len(t, revs, 40)
	for path, data := range files {
		got, _, err := dst.Read(ctx, path)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), path)
	}
	assert.Empty(t, pending(t, dst))

	// Re-importing into the source tenant finds every blob and revision in place.
	revs, err = src.Import(ctx, exported.Data)
	require.NoError(t, err)
	assert.Empty(t, revs)
}
