package shared

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimals kept on stored amounts.
const MoneyPlaces = 2

// Round rounds an amount half away from zero to MoneyPlaces.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// CalculateLine returns the rounded net and VAT of quantity × unitPrice at vatRate.
// vatRate is a fraction, 0.18 means 18%.
func CalculateLine(quantity, unitPrice, vatRate decimal.Decimal) (net, vat decimal.Decimal) {
	net = Round(quantity.Mul(unitPrice))
	vat = Round(net.Mul(vatRate))
	return net, vat
}

// Totals is the net/VAT/gross triple carried by every document.
type Totals struct {
	Net   decimal.Decimal
	VAT   decimal.Decimal
	Gross decimal.Decimal
}

// Add accumulates a line into the totals. Gross is always Net + VAT.
func (t Totals) Add(net, vat decimal.Decimal) Totals {
	t.Net = t.Net.Add(net)
	t.VAT = t.VAT.Add(vat)
	t.Gross = t.Net.Add(t.VAT)
	return t
}

// Neg flips the sign of every component.
func (t Totals) Neg() Totals {
	return Totals{Net: t.Net.Neg(), VAT: t.VAT.Neg(), Gross: t.Gross.Neg()}
}
