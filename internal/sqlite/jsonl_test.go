package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

func TestReadJSONL_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	content := `{"name":"Brie"}
not json

{"name":"Comte"}
{"name":
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := readJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.JSONEq(t, `{"name":"Brie"}`, string(records[0]))
	assert.JSONEq(t, `{"name":"Comte"}`, string(records[1]))
}

func TestReadJSONL_MissingFile(t *testing.T) {
	_, err := readJSONL(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteJSONL_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	require.NoError(t, writeJSONL(path, [][]byte{[]byte(`{"a":1}`), []byte(`{"a":2}`)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file %s left behind", e.Name())
	}
}

func TestWriteJSONL_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, writeJSONL(path, nil))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cheese.jsonl")

	src := openMemory(t)
	for _, v := range []types.Values{
		{"name": "Brie", "age": 1, "weight": 1.5, "attrs": map[string]any{"milk": "cow"}},
		{"name": "Manchego", "age": 12, "attrs": []any{"sheep", 2.0}},
	} {
		_, err := src.Reader(ctx).Put(cheeseKind, v)
		require.NoError(t, err)
	}
	_, err := src.Reader(ctx).DeleteByID(cheeseKind, 1)
	require.NoError(t, err)
	_, err = src.Reader(ctx).Put(cheeseKind, types.Values{"name": "Stilton", "age": 9})
	require.NoError(t, err)

	n, err := src.ExportJSONL(ctx, "Cheese", path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := openMemory(t)
	n, err = dst.ImportJSONL(ctx, "Cheese", path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want, err := src.Reader(ctx).Query(cheeseKind, types.QueryArgs{OrderBy: "_id"})
	require.NoError(t, err)
	got, err := dst.Reader(ctx).Query(cheeseKind, types.QueryArgs{OrderBy: "_id"})
	require.NoError(t, err)
	assert.Equal(t, want.Records(), got.Records())

	id, _ := got.Value(0, types.IDColumn)
	assert.Equal(t, int64(2), id, "ids survive the round trip")
}

func TestImportJSONL_SkipsNonObjects(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mixed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("[1,2]\n{\"label\":\"slate\"}\n42\n"), 0o644))

	b := openMemory(t)
	n, err := b.ImportJSONL(ctx, "Plateau", path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImportJSONL_UnknownColumnRollsBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"label\":\"slate\"}\n{\"shape\":\"round\"}\n"), 0o644))

	b := openMemory(t)
	_, err := b.ImportJSONL(ctx, "Plateau", path)
	assert.ErrorIs(t, err, types.ErrInvalidValues)

	cur, err := b.Reader(ctx).Query(plateauKind, types.QueryArgs{})
	require.NoError(t, err)
	assert.Zero(t, cur.Count())
}

func TestExportImport_UnregisteredKind(t *testing.T) {
	ctx := context.Background()
	b := openMemory(t)
	path := filepath.Join(t.TempDir(), "x.jsonl")

	_, err := b.ExportJSONL(ctx, "Wine", path)
	assert.ErrorIs(t, err, types.ErrUnregisteredKind)
	_, err = b.ImportJSONL(ctx, "Wine", path)
	assert.ErrorIs(t, err, types.ErrUnregisteredKind)
}

var photoKind = types.EntityKind{
	Name: "Photo",
	Path: "photo",
	Columns: []types.Column{
		{Name: "caption", Type: types.ColumnText},
		{Name: "data", Type: types.ColumnBlob},
	},
}

func TestExportImport_KeepsBlobsAndLargeIDs(t *testing.T) {
	for _, codec := range []string{types.CodecGoccy, types.CodecJSONIter} {
		t.Run(codec, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "photo.jsonl")
			cfg := memoryConfig(types.BackendSQLite)
			cfg.JSONCodec = codec

			open := func() *Backend {
				b, err := Open(ctx, cfg, []types.EntityKind{photoKind}, quietLogger())
				require.NoError(t, err)
				t.Cleanup(func() { b.Close() })
				return b
			}

			const bigID = int64(1)<<53 + 1
			src := open()
			_, err := src.Reader(ctx).Put(photoKind, types.Values{
				types.IDColumn: bigID,
				"caption":      "rind",
				"data":         []byte{0x01, 0x02, 0xff},
			})
			require.NoError(t, err)
			_, err = src.Reader(ctx).Put(photoKind, types.Values{types.IDColumn: 3, "caption": "empty"})
			require.NoError(t, err)

			_, err = src.ExportJSONL(ctx, "Photo", path)
			require.NoError(t, err)

			dst := open()
			n, err := dst.ImportJSONL(ctx, "Photo", path)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			want, err := src.Reader(ctx).Query(photoKind, types.QueryArgs{OrderBy: "_id"})
			require.NoError(t, err)
			got, err := dst.Reader(ctx).Query(photoKind, types.QueryArgs{OrderBy: "_id"})
			require.NoError(t, err)
			assert.Equal(t, want.Records(), got.Records())

			cur, err := dst.Reader(ctx).QueryByID(photoKind, bigID, nil)
			require.NoError(t, err)
			require.Equal(t, 1, cur.Count())
			data, _ := cur.Value(0, "data")
			assert.Equal(t, []byte{0x01, 0x02, 0xff}, data)
		})
	}
}

func TestImportJSONL_InvalidBlob(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "photo.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":"not base64!"}`+"\n"), 0o644))

	b, err := Open(ctx, memoryConfig(types.BackendSQLite), []types.EntityKind{photoKind}, quietLogger())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ImportJSONL(ctx, "Photo", path)
	assert.ErrorIs(t, err, types.ErrInvalidValues)
}
