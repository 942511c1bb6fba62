package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorAccess(t *testing.T) {
	c := &Cursor{
		Columns: []string{"_id", "name"},
		Rows:    [][]any{{int64(1), "Gouda"}, {int64(2), "Brie"}},
	}

	assert.Equal(t, 2, c.Count())
	assert.Equal(t, 1, c.ColumnIndex("name"))
	assert.Equal(t, -1, c.ColumnIndex("missing"))

	row, err := c.Row(1)
	require.NoError(t, err)
	assert.Equal(t, Values{"_id": int64(2), "name": "Brie"}, row)

	v, err := c.Value(0, "name")
	require.NoError(t, err)
	assert.Equal(t, "Gouda", v)

	_, err = c.Value(0, "missing")
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = c.Row(2)
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, err = c.Row(-1)
	assert.ErrorIs(t, err, ErrInvalidPosition)

	assert.Len(t, c.Records(), 2)
}

func TestNilAndEmptyCursor(t *testing.T) {
	var c *Cursor
	assert.Equal(t, 0, c.Count())

	empty := EmptyCursor()
	assert.Equal(t, 0, empty.Count())
	assert.Equal(t, 0, empty.ColumnIndex(IDColumn))
}

func TestValues(t *testing.T) {
	v := Values{"b": 1, "a": 2, "_id": float64(7)}
	assert.Equal(t, []string{"_id", "a", "b"}, v.Keys())

	id, ok := v.ID()
	require.True(t, ok)
	assert.Equal(t, int64(7), id)

	clone := v.Clone()
	clone["a"] = 3
	assert.Equal(t, 2, v["a"])

	_, ok = Values{"_id": 1.5}.ID()
	assert.False(t, ok)
	_, ok = Values{}.ID()
	assert.False(t, ok)

	var nilValues Values
	assert.NotNil(t, nilValues.Clone())
}
