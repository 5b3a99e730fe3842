package transform

import (
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numeric(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	var n pgtype.Numeric
	require.NoError(t, n.Scan(s))
	return n
}

func TestToInt64(t *testing.T) {
	testCases := []struct {
		name   string
		input  interface{}
		want   int64
		wantOK bool
	}{
		{"int", 42, 42, true},
		{"int32", int32(-7), -7, true},
		{"int64", int64(1 << 40), 1 << 40, true},
		{"uint64 overflow", uint64(math.MaxUint64), 0, false},
		{"whole float", 2020.0, 2020, true},
		{"fractional float", 25.5, 0, false},
		{"NaN", math.NaN(), 0, false},
		{"string", " 75 ", 75, true},
		{"float string", "50.0", 50, true},
		{"bytes", []byte("2050"), 2050, true},
		{"junk", "seventy", 0, false},
		{"empty", "", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ToInt64(tc.input)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToInt64_Numeric(t *testing.T) {
	got, ok := ToInt64(numeric(t, "2080"))
	require.True(t, ok)
	assert.Equal(t, int64(2080), got)

	_, ok = ToInt64(pgtype.Numeric{})
	assert.False(t, ok, "invalid numeric")
}

func TestToFloat64(t *testing.T) {
	testCases := []struct {
		name   string
		input  interface{}
		want   float64
		wantOK bool
	}{
		{"int", 3, 3, true},
		{"uint8", uint8(9), 9, true},
		{"float32", float32(0.5), 0.5, true},
		{"float64", 123.456, 123.456, true},
		{"string", "1e3", 1000, true},
		{"bytes", []byte(" 2.25"), 2.25, true},
		{"inf", math.Inf(1), 0, false},
		{"junk", "area", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ToFloat64(tc.input)
			assert.Equal(t, tc.wantOK, ok)
			assert.InDelta(t, tc.want, got, 1e-12)
		})
	}
}

func TestToFloat64_Numeric(t *testing.T) {
	got, ok := ToFloat64(numeric(t, "1234.5"))
	require.True(t, ok)
	assert.InDelta(t, 1234.5, got, 1e-9)
}

func TestToString(t *testing.T) {
	s, ok := ToString("  Acer rubrum ")
	assert.True(t, ok)
	assert.Equal(t, "Acer rubrum", s)

	s, ok = ToString(int64(25))
	assert.True(t, ok)
	assert.Equal(t, "25", s)

	s, ok = ToString([]byte("ccsm4"))
	assert.True(t, ok)
	assert.Equal(t, "ccsm4", s)

	_, ok = ToString(nil)
	assert.False(t, ok)
}

func TestValueToStringForHash(t *testing.T) {
	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "<NIL>", ValueToStringForHash(nil))
	assert.Equal(t, "abc", ValueToStringForHash("abc"))
	assert.Equal(t, "-5", ValueToStringForHash(int32(-5)))
	assert.Equal(t, "7", ValueToStringForHash(uint16(7)))
	assert.Equal(t, "0.25", ValueToStringForHash(0.25))
	assert.Equal(t, "true", ValueToStringForHash(true))
	assert.Equal(t, "2020-01-02T02:04:05Z", ValueToStringForHash(ts))
	assert.Equal(t, "50", ValueToStringForHash(numeric(t, "50")))
}

func TestCompareValues(t *testing.T) {
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	testCases := []struct {
		name    string
		a, b    interface{}
		want    int
		wantErr bool
	}{
		{"both nil", nil, nil, 0, false},
		{"nil first", nil, 1, -1, false},
		{"nil second", 1, nil, 1, false},
		{"int vs float", int32(25), 50.0, -1, false},
		{"int vs numeric string", 75, "50", 1, false},
		{"equal numbers", int64(50), 50.0, 0, false},
		{"strings compare lexically", "75", "8", -1, false},
		{"strings", "abies", "acer", -1, false},
		{"times", t2, t1, 1, false},
		{"bools", false, true, -1, false},
		{"mismatch", "a", true, 0, true},
		{"unordered equal", []int{1}, []int{1}, 0, false},
		{"unordered different", []int{1}, []int{2}, 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CompareValues(tc.a, tc.b)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
