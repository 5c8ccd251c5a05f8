package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLamportsFromSOLIsExact(t *testing.T) {
	cases := []struct {
		sol  string
		want uint64
	}{
		{"0.03", 30_000_000},
		{"1", 1_000_000_000},
		{"0.000000001", 1},
		{"0", 0},
		{"12.345678901", 12_345_678_901},
	}
	for _, tc := range cases {
		got, err := LamportsFromSOL(decimal.RequireFromString(tc.sol))
		require.NoError(t, err, "sol=%s", tc.sol)
		assert.Equal(t, tc.want, got, "sol=%s", tc.sol)
	}
}

func TestLamportsFromSOLRejectsSubLamportPrecision(t *testing.T) {
	_, err := LamportsFromSOL(decimal.RequireFromString("0.0000000001"))
	assert.Error(t, err)
}

func TestLamportsFromSOLRejectsNegative(t *testing.T) {
	_, err := LamportsFromSOL(decimal.RequireFromString("-0.5"))
	assert.Error(t, err)
}

func TestRPCErrorImplementsError(t *testing.T) {
	var err error = &RPCError{Code: -32602, Message: "invalid params"}
	assert.Contains(t, err.Error(), "-32602")
	assert.Contains(t, err.Error(), "invalid params")
}
