package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const defaultMinorUnits = 2

// minorUnits - число знаков после запятой для валют, у которых их не два (ISO 4217).
var minorUnits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// MinorUnits возвращает число знаков дробной части валюты. Неизвестные валюты считаются двузначными.
func MinorUnits(currency string) int32 {
	if units, ok := minorUnits[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return units
	}
	return defaultMinorUnits
}

// MinorToDecimal переводит сумму в минимальных единицах в десятичную сумму валюты.
func MinorToDecimal(amountMinor int64, currency string) decimal.Decimal {
	return decimal.New(amountMinor, -MinorUnits(currency))
}

// FormatMinor печатает сумму с точностью валюты: 1050 USD -> "10.50", 1000 JPY -> "1000".
func FormatMinor(amountMinor int64, currency string) string {
	return MinorToDecimal(amountMinor, currency).StringFixed(MinorUnits(currency))
}
