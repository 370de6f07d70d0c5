package frame

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendNormalizesDriverValues(t *testing.T) {
	f := New("a", "b", "c")
	require.NoError(t, f.Append([]byte("x"), int32(7), float32(1.5)))

	assert.Equal(t, "x", f.Get(0, "a"))
	assert.Equal(t, int64(7), f.Get(0, "b"))
	assert.Equal(t, 1.5, f.Get(0, "c"))
	assert.Error(t, f.Append(1, 2))
}

func TestConcatUnionsColumns(t *testing.T) {
	a := New("order_no", "total")
	require.NoError(t, a.Append("O1", 10.0))
	b := New("order_no", "source_system")
	require.NoError(t, b.Append("O2", "cyrgweixin"))

	out := Concat(a, nil, b)

	assert.Equal(t, []string{"order_no", "total", "source_system"}, out.Columns())
	require.Equal(t, 2, out.Len())
	assert.Nil(t, out.Get(0, "source_system"))
	assert.Nil(t, out.Get(1, "total"))
	assert.Equal(t, "O2", out.Get(1, "order_no"))
}

func TestDedupByKeepsFirst(t *testing.T) {
	f := New("order_no", "source_system")
	require.NoError(t, f.Append("O1", "cyrg2025"))
	require.NoError(t, f.Append("O2", "cyrg2025"))
	require.NoError(t, f.Append("O1", "cyrgweixin"))
	require.NoError(t, f.Append(nil, "cyrgweixin"))
	require.NoError(t, f.Append(nil, "cyrgweixin"))

	removed := f.DedupBy("order_no")

	assert.Equal(t, 2, removed)
	require.Equal(t, 3, f.Len())
	assert.Equal(t, "cyrg2025", f.Get(0, "source_system"))
}

func TestDedupByCompositeTimeKey(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := New("order_id", "product_id", "created_at")
	require.NoError(t, f.Append(int64(1), int64(9), ts))
	require.NoError(t, f.Append(int64(1), int64(9), ts.In(time.FixedZone("CST", 8*3600))))
	require.NoError(t, f.Append(int64(1), int64(9), ts.Add(time.Second)))

	assert.Equal(t, 1, f.DedupBy("order_id", "product_id", "created_at"))
	assert.Equal(t, 2, f.Len())
}

func TestDropNull(t *testing.T) {
	f := New("a", "b")
	require.NoError(t, f.Append(1, nil))
	require.NoError(t, f.Append(nil, 2))
	require.NoError(t, f.Append(3, 4))

	assert.Equal(t, 1, f.DropNull("a"))
	assert.Equal(t, 1, f.DropNull("b"))
	assert.Equal(t, 1, f.Len())
	// An unknown column drops everything
	assert.Equal(t, 1, f.DropNull("missing"))
	assert.Equal(t, 0, f.Len())
}

func TestCoerce(t *testing.T) {
	f := New("total", "created_at", "pay_state")
	require.NoError(t, f.Append("12.50", "2025-01-02 03:04:05", "2"))
	require.NoError(t, f.Append("abc", "not a date", "2.5"))
	require.NoError(t, f.Append(nil, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), int64(1)))

	assert.Equal(t, 1, f.Coerce("total", KindFloat))
	assert.Equal(t, 1, f.Coerce("created_at", KindTime))
	assert.Equal(t, 1, f.Coerce("pay_state", KindInt))

	assert.Equal(t, 12.5, f.Get(0, "total"))
	assert.Nil(t, f.Get(1, "total"))
	assert.Nil(t, f.Get(2, "total"))

	ts, ok := f.Time(0, "created_at")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), ts)
	assert.Nil(t, f.Get(1, "created_at"))

	assert.Equal(t, int64(2), f.Get(0, "pay_state"))
	assert.Nil(t, f.Get(1, "pay_state"))
}

func TestRenameSelectFilter(t *testing.T) {
	f := New("orderNo", "total")
	require.NoError(t, f.Append("O1", 5.0))
	require.NoError(t, f.Append("O2", 50.0))

	f.Rename(map[string]string{"orderNo": "order_no", "unknown": "x"})
	assert.True(t, f.Has("order_no"))
	assert.False(t, f.Has("orderNo"))

	sel, err := f.Select("total", "order_no")
	require.NoError(t, err)
	assert.Equal(t, []string{"total", "order_no"}, sel.Columns())

	_, err = f.Select("missing")
	assert.Error(t, err)

	big := f.Filter(func(i int) bool {
		v, _ := f.Float(i, "total")
		return v > 10
	})
	require.Equal(t, 1, big.Len())
	assert.Equal(t, "O2", big.Get(0, "order_no"))
}

func TestAddColumnAndFillNull(t *testing.T) {
	f := New("id", "city")
	require.NoError(t, f.Append(int64(7), nil))
	require.NoError(t, f.Append(int64(8), "上海"))

	f.AddColumn("store_code", func(i int) any {
		id, _ := f.Int(i, "id")
		return "S" + strconv.FormatInt(id, 10)
	})
	f.FillNull("city", "未知城市")
	f.FillNull("area", 0.0)

	assert.Equal(t, "S7", f.Get(0, "store_code"))
	assert.Equal(t, "未知城市", f.Get(0, "city"))
	assert.Equal(t, "上海", f.Get(1, "city"))
	assert.Equal(t, 0.0, f.Get(1, "area"))
}

func TestToStringAndToBool(t *testing.T) {
	s, ok := ToString(" 13800000000 ")
	assert.True(t, ok)
	assert.Equal(t, "13800000000", s)

	_, ok = ToString("   ")
	assert.False(t, ok)

	s, ok = ToString(42.0)
	assert.True(t, ok)
	assert.Equal(t, "42", s)

	b, ok := ToBool(int64(0))
	assert.True(t, ok)
	assert.False(t, b)

	b, ok = ToBool("true")
	assert.True(t, ok)
	assert.True(t, b)
}
