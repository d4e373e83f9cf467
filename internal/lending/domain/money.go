package domain

import (
	"github.com/shopspring/decimal"
)

// RoundingMode 缩放到产品精度时的舍入策略
type RoundingMode int

const (
	// RoundUnnecessary 需要舍入即失败（默认）
	RoundUnnecessary RoundingMode = iota
	// RoundHalfEven 银行家舍入
	RoundHalfEven
	// RoundDown 向零截断
	RoundDown
)

// Scale 将金额缩放到 digits 位小数。
// RoundUnnecessary 下，任何需要舍入的值都返回 InexactScaleError。
func Scale(value decimal.Decimal, digits int32, mode RoundingMode) (decimal.Decimal, error) {
	var scaled decimal.Decimal
	switch mode {
	case RoundHalfEven:
		scaled = value.RoundBank(digits)
	case RoundDown:
		scaled = value.Truncate(digits)
	default:
		scaled = value.Round(digits)
		if !scaled.Equal(value) {
			return decimal.Zero, &InexactScaleError{Value: value, Scale: digits}
		}
	}
	return scaled, nil
}

// FormatAmount 按固定小数位输出金额字符串，如 10.0000
func FormatAmount(value decimal.Decimal, digits int32) string {
	return value.StringFixed(digits)
}

// SumAmounts 精确求和
func SumAmounts(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
