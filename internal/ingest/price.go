package ingest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kjannette/cowtrader/internal/models"
)

const priceScale = 30

// CanonicalPair orders two tokens by lowercase hex address.
func CanonicalPair(a, b common.Address) models.Pair {
	return models.NewPair(a, b)
}

// DerivePrice returns the price of the pair's TokenA in units of TokenB
// implied by one settlement trade.
func DerivePrice(sellToken, buyToken common.Address, sellAmount, buyAmount *big.Int) (float64, error) {
	pair := CanonicalPair(sellToken, buyToken)
	if isZero(sellAmount) {
		return 0, &models.DataError{Field: "sellAmount", Value: amountString(sellAmount), Err: models.ErrZeroAmount}
	}
	if isZero(buyAmount) {
		return 0, &models.DataError{Field: "buyAmount", Value: amountString(buyAmount), Err: models.ErrZeroAmount}
	}

	sell := decimal.NewFromBigInt(sellAmount, 0)
	buy := decimal.NewFromBigInt(buyAmount, 0)

	var price decimal.Decimal
	if sellToken == pair.TokenA {
		price = buy.DivRound(sell, priceScale)
	} else {
		price = sell.DivRound(buy, priceScale)
	}
	f, _ := price.Float64()
	return f, nil
}

// ToRecord converts a decoded settlement trade into a ledger row. A trade
// whose price cannot be derived is still returned, with a nil price, along
// with the DataError explaining why.
func ToRecord(t models.SettlementTrade) (models.TradeRecord, error) {
	pair := CanonicalPair(t.SellToken, t.BuyToken)
	rec := models.TradeRecord{
		BlockNumber: t.BlockNumber,
		Owner:       t.Owner,
		SellToken:   t.SellToken,
		BuyToken:    t.BuyToken,
		SellAmount:  amountString(t.SellAmount),
		BuyAmount:   amountString(t.BuyAmount),
		TokenA:      pair.TokenA,
		TokenB:      pair.TokenB,
	}
	price, err := DerivePrice(t.SellToken, t.BuyToken, t.SellAmount, t.BuyAmount)
	if err != nil {
		return rec, err
	}
	rec.Price = &price
	return rec, nil
}

func isZero(n *big.Int) bool {
	return n == nil || n.Sign() == 0
}

func amountString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
