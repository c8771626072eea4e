package code

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		prefix string
		order  int
		want   string
	}{
		{"REQ", 1, "REQ-001"},
		{"TC", 42, "TC-042"},
		{"BUG", 999, "BUG-999"},
		{"TC", 1000, "TC-1000"},
		{"TC", 12345, "TC-12345"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Format(tc.prefix, tc.order))
	}
}

func TestParse(t *testing.T) {
	n, ok := Parse("REQ", " REQ-007 ")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	n, ok = Parse("TC", "tc-1000")
	assert.True(t, ok)
	assert.Equal(t, 1000, n)

	for _, bad := range []string{"", "REQ", "REQ-", "TC-001", "REQ-abc", "REQ-000"} {
		_, ok := Parse("REQ", bad)
		assert.False(t, ok, bad)
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, order := range []int{1, 9, 10, 99, 100, 999, 1000} {
		n, ok := Parse("BUG", Format("BUG", order))
		assert.True(t, ok)
		assert.Equal(t, order, n)
	}
}

func TestParseListAndJoin(t *testing.T) {
	got := ParseList("REQ", "REQ-003, REQ-001,junk, REQ-003,TC-002")
	assert.Equal(t, []int{3, 1}, got)
	assert.Equal(t, "REQ-003, REQ-001", Join("REQ", got))
	assert.Empty(t, ParseList("REQ", ""))
	assert.Equal(t, "", Join("REQ", nil))
}
