// Package pricing рассчитывает отображаемую цену пакета монет с учётом промокода.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/coinshop/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Price возвращает цену и количество монет пакета с учётом применённой скидки.
// Функция не имеет побочных эффектов и при одинаковых аргументах возвращает одинаковый результат.
func Price(pkg model.CoinPackage, discount *model.AppliedDiscount) model.PricingResult {
	res := model.PricingResult{
		DisplayPrice:  pkg.Price,
		OriginalPrice: pkg.Price,
		Currency:      pkg.Currency,
		CoinsGranted:  pkg.Coins,
	}

	if discount == nil {
		return res
	}

	v := discount.DiscountValue

	switch discount.DiscountType {
	case model.DiscountPercentage:
		// Диапазон [0,100] гарантируется проверкой промокода, здесь не ограничивается.
		res.DisplayPrice = pkg.Price.Mul(decimal.NewFromInt(1).Sub(v.Div(hundred)))
		if res.DisplayPrice.LessThan(res.OriginalPrice) {
			res.SavingsLabel = fmt.Sprintf("Save %s%%", v.String())
		}
	case model.DiscountFixedAmount:
		res.DisplayPrice = decimal.Max(decimal.Zero, pkg.Price.Sub(v))
		if res.DisplayPrice.LessThan(res.OriginalPrice) {
			saved := res.OriginalPrice.Sub(res.DisplayPrice)
			res.SavingsLabel = fmt.Sprintf("Save %s %s", saved.StringFixed(2), pkg.Currency)
		}
	case model.DiscountBonusCoins:
		bonus := v.IntPart()
		res.CoinsGranted = pkg.Coins + bonus
		res.SavingsLabel = fmt.Sprintf("+%d bonus coins", bonus)
	}

	return res
}
