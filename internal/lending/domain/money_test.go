package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScale(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		digits  int32
		mode    RoundingMode
		want    string
		inexact bool
	}{
		{name: "exact", value: "10", digits: 4, mode: RoundUnnecessary, want: "10"},
		{name: "exact with trailing zeros", value: "1.2300", digits: 2, mode: RoundUnnecessary, want: "1.23"},
		{name: "inexact fails", value: "0.00005", digits: 4, mode: RoundUnnecessary, inexact: true},
		{name: "half even", value: "0.125", digits: 2, mode: RoundHalfEven, want: "0.12"},
		{name: "down", value: "0.129", digits: 2, mode: RoundDown, want: "0.12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Scale(dec(tt.value), tt.digits, tt.mode)
			if tt.inexact {
				var inexact *InexactScaleError
				require.ErrorAs(t, err, &inexact)
				assert.Equal(t, tt.digits, inexact.Scale)
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "10.0000", FormatAmount(dec("10"), 4))
	assert.Equal(t, "1000", FormatAmount(dec("1000"), 0))
	assert.Equal(t, "3.50", FormatAmount(SumAmounts(dec("1.25"), dec("2.25")), 2))
}
