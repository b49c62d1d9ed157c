package execution

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/kjannette/cowtrader/internal/ethereum"
	"github.com/kjannette/cowtrader/internal/external"
	"github.com/kjannette/cowtrader/internal/models"
)

// OrderPresigner is satisfied by *ethereum.TradingModule.
type OrderPresigner interface {
	SetOrder(ctx context.Context, orderUID []byte, order ethereum.OrderData, signed bool) (string, error)
}

// ModuleSigner presigns orders through the Safe's trading module.
type ModuleSigner struct {
	module OrderPresigner
}

func NewModuleSigner(module OrderPresigner) *ModuleSigner {
	return &ModuleSigner{module: module}
}

func (s *ModuleSigner) Sign(ctx context.Context, orderUID string, order external.OrderRequest) (string, error) {
	uid, err := hexutil.Decode(orderUID)
	if err != nil {
		return "", &models.DataError{Field: "orderUid", Value: orderUID, Err: err}
	}
	data, err := OrderData(order)
	if err != nil {
		return "", err
	}
	return s.module.SetOrder(ctx, uid, data, true)
}

// OrderData re-assembles an order into the GPv2Order.Data tuple. Kind and
// balance markers are fixed to sell and ERC-20; appData is the hash.
func OrderData(o external.OrderRequest) (ethereum.OrderData, error) {
	sellAmount, err := amount("sellAmount", o.SellAmount)
	if err != nil {
		return ethereum.OrderData{}, err
	}
	buyAmount, err := amount("buyAmount", o.BuyAmount)
	if err != nil {
		return ethereum.OrderData{}, err
	}
	fee, err := amount("feeAmount", o.FeeAmount)
	if err != nil {
		return ethereum.OrderData{}, err
	}
	for _, f := range [][2]string{{"sellToken", o.SellToken}, {"buyToken", o.BuyToken}, {"receiver", o.Receiver}} {
		if !common.IsHexAddress(f[1]) {
			return ethereum.OrderData{}, &models.DataError{Field: f[0], Value: f[1], Err: fmt.Errorf("not an address")}
		}
	}
	appData, err := hexutil.Decode(o.AppDataHash)
	if err != nil || len(appData) != common.HashLength {
		return ethereum.OrderData{}, &models.DataError{Field: "appDataHash", Value: o.AppDataHash, Err: fmt.Errorf("want 32-byte hex")}
	}

	return ethereum.OrderData{
		SellToken:         common.HexToAddress(o.SellToken),
		BuyToken:          common.HexToAddress(o.BuyToken),
		Receiver:          common.HexToAddress(o.Receiver),
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		ValidTo:           o.ValidTo,
		AppData:           common.BytesToHash(appData),
		FeeAmount:         fee,
		Kind:              ethereum.KindSell,
		PartiallyFillable: o.PartiallyFillable,
		SellTokenBalance:  ethereum.BalanceERC20,
		BuyTokenBalance:   ethereum.BalanceERC20,
	}, nil
}

func amount(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, &models.DataError{Field: field, Value: s, Err: fmt.Errorf("not a base-10 unsigned integer")}
	}
	return n, nil
}
