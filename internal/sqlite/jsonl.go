package sqlite

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	gojson "github.com/goccy/go-json"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// readJSONL reads a JSONL file and returns each non-empty, parseable line.
// Malformed lines are skipped.
func readJSONL(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !gojson.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records [][]byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(what string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", what, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// ExportJSONL writes every row of the named kind to path, one object per
// line in _id order. JSON columns are written as nested values and BLOB
// columns as base64 text. It returns
// the number of rows written.
func (b *Backend) ExportJSONL(ctx context.Context, kindName, path string) (int, error) {
	k, ok := b.Kind(kindName)
	if !ok {
		return 0, fmt.Errorf("kind %q: %w", kindName, types.ErrUnregisteredKind)
	}

	cur, err := b.Reader(ctx).Query(k, types.QueryArgs{OrderBy: types.IDColumn})
	if err != nil {
		return 0, err
	}

	records := make([][]byte, 0, cur.Count())
	for _, row := range cur.Records() {
		data, err := b.codec.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("encoding %s row: %w", k.Name, err)
		}
		records = append(records, data)
	}
	if err := writeJSONL(path, records); err != nil {
		return 0, err
	}
	b.logger.Info("exported", "kind", k.Name, "rows", len(records), "path", path)
	return len(records), nil
}

// decodeBlobs turns the base64 text that ExportJSONL writes for BLOB columns
// back into bytes.
func decodeBlobs(k types.EntityKind, values types.Values) error {
	for _, col := range k.Columns {
		if col.Type != types.ColumnBlob {
			continue
		}
		s, ok := values[col.Name].(string)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("column %s: %w: %w", col.Name, types.ErrInvalidValues, err)
		}
		values[col.Name] = data
	}
	return nil
}

// ImportJSONL puts every record of path into the named kind in one
// transaction. Records carrying _id replace the existing row. It returns the
// number of rows written.
func (b *Backend) ImportJSONL(ctx context.Context, kindName, path string) (int, error) {
	k, ok := b.Kind(kindName)
	if !ok {
		return 0, fmt.Errorf("kind %q: %w", kindName, types.ErrUnregisteredKind)
	}

	records, err := readJSONL(path)
	if err != nil {
		return 0, err
	}

	n := 0
	err = b.Transact(ctx, nil, func(c types.Compartment) error {
		for i, rec := range records {
			var values types.Values
			if err := b.codec.UnmarshalNumbers(rec, &values); err != nil {
				b.logger.Warn("skipping record", "kind", k.Name, "record", i+1, "err", err)
				continue
			}
			if err := decodeBlobs(k, values); err != nil {
				return fmt.Errorf("record %d: %w", i+1, err)
			}
			if _, err := c.Put(k, values); err != nil {
				return fmt.Errorf("record %d: %w", i+1, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.logger.Info("imported", "kind", k.Name, "rows", n, "path", path)
	return n, nil
}
