package fmode

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Basic(t *testing.T) {
	s, err := Parse("rb")
	require.NoError(t, err)
	assert.Equal(t, Read, s.Op)
	assert.True(t, s.Binary)
	assert.False(t, s.Text)
	assert.False(t, s.Plus)
	assert.True(t, s.Reading())
	assert.False(t, s.Writing())
}

func TestParse_OrderIrrelevant(t *testing.T) {
	a, err := Parse("wb+")
	require.NoError(t, err)
	b, err := Parse("+bw")
	require.NoError(t, err)
	assert.Equal(t, a.Op, b.Op)
	assert.Equal(t, a.Binary, b.Binary)
	assert.Equal(t, a.Plus, b.Plus)
}

func TestParse_WritingOps(t *testing.T) {
	for _, mode := range []string{"wb", "ab", "xb", "wt", "at", "xt"} {
		s, err := Parse(mode)
		require.NoError(t, err, mode)
		assert.True(t, s.Writing(), mode)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		mode string
		msg  string
	}{
		{"", "cannot be empty"},
		{"rw", "one of r, w, a, or x"},
		{"rbb", "'b' more than once"},
		{"rtt", "'t' more than once"},
		{"r++", "'+' more than once"},
		{"rbt", "both 'b' and 't'"},
		{"b", "must include one of"},
		{"ry", "invalid mode character"},
		{"y", "invalid mode character"},
	}
	for _, tc := range cases {
		_, err := Parse(tc.mode)
		require.Error(t, err, tc.mode)
		assert.ErrorIs(t, err, ErrInvalidMode, tc.mode)
		assert.Contains(t, err.Error(), tc.msg, tc.mode)
	}
}

func TestSpec_AsBinary(t *testing.T) {
	s, err := Parse("at+")
	require.NoError(t, err)
	b := s.AsBinary()
	assert.Equal(t, Append, b.Op)
	assert.True(t, b.Binary)
	assert.False(t, b.Text)
	assert.True(t, b.Plus)
	assert.Equal(t, "ab+", b.String())
}

func TestSpec_OSFlags(t *testing.T) {
	s, err := Parse("wb")
	require.NoError(t, err)
	assert.Equal(t, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, s.OSFlags())

	s, err = Parse("ab")
	require.NoError(t, err)
	assert.Equal(t, os.O_WRONLY|os.O_CREATE|os.O_APPEND, s.OSFlags())

	s, err = Parse("xb")
	require.NoError(t, err)
	assert.Equal(t, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.OSFlags())

	s, err = Parse("rb")
	require.NoError(t, err)
	assert.Equal(t, os.O_RDONLY, s.OSFlags())

	s, err = Parse("rb+")
	require.NoError(t, err)
	assert.Equal(t, os.O_RDWR, s.OSFlags())
}

func TestValidateChunkSize(t *testing.T) {
	assert.NoError(t, ValidateChunkSize(1))
	assert.NoError(t, ValidateChunkSize(64*1024))
	assert.Error(t, ValidateChunkSize(0))
	assert.Error(t, ValidateChunkSize(-5))
}

func TestValidateLevel(t *testing.T) {
	for lvl := 0; lvl <= 9; lvl++ {
		assert.NoError(t, ValidateLevel(lvl))
	}
	assert.Error(t, ValidateLevel(-1))
	assert.Error(t, ValidateLevel(10))
}
