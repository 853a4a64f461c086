package infra

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericToDecimal_Zero(t *testing.T) {
	n := DecimalToNumeric(decimal.Zero)
	v, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestNumericToDecimal_TwoPlaces(t *testing.T) {
	// 10050 * 10^-2 = 100.50
	n := pgtype.Numeric{Int: big.NewInt(10050), Exp: -2, Valid: true}
	v, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.Equal(t, "100.50", v.StringFixed(2))
}

func TestNumericToDecimal_PositiveExponent(t *testing.T) {
	// 500 * 10^2 = 50000
	n := pgtype.Numeric{Int: big.NewInt(500), Exp: 2, Valid: true}
	v, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(50000)))
}

func TestNumericToDecimal_NullReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{Valid: false})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NULL")
}

func TestNumericToDecimal_NaNReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{NaN: true, Valid: true})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NaN")
}

func TestNumericToDecimal_InfinityReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{InfinityModifier: pgtype.Infinity, Valid: true})
	assert.Error(t, err)
}

func TestDecimalToNumeric_Roundtrip(t *testing.T) {
	values := []string{"0", "1", "-1", "0.01", "100.50", "-42.99", "999999999999999999.99"}
	for _, s := range values {
		d := decimal.RequireFromString(s)
		result, err := NumericToDecimal(DecimalToNumeric(d))
		require.NoError(t, err, "value: %s", s)
		assert.True(t, d.Equal(result), "value: %s", s)
	}
}
