package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// GPv2 order marker hashes.
var (
	KindSell     = common.HexToHash("0xf3b277728b3fee749481eb3e0b3b48980dbbab78658fc419025cb16eee346775")
	BalanceERC20 = common.HexToHash("0x5a28e9363bb942b639270062aa6bb295f434bcdfc42c97267bf003f272060dc9")
)

// OrderData mirrors GPv2Order.Data.
type OrderData struct {
	SellToken         common.Address `abi:"sellToken"`
	BuyToken          common.Address `abi:"buyToken"`
	Receiver          common.Address `abi:"receiver"`
	SellAmount        *big.Int       `abi:"sellAmount"`
	BuyAmount         *big.Int       `abi:"buyAmount"`
	ValidTo           uint32         `abi:"validTo"`
	AppData           [32]byte       `abi:"appData"`
	FeeAmount         *big.Int       `abi:"feeAmount"`
	Kind              [32]byte       `abi:"kind"`
	PartiallyFillable bool           `abi:"partiallyFillable"`
	SellTokenBalance  [32]byte       `abi:"sellTokenBalance"`
	BuyTokenBalance   [32]byte       `abi:"buyTokenBalance"`
}

// TxSender signs and broadcasts a transaction.
type TxSender interface {
	SignAndSend(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error)
}

// TradingModule presigns CoW orders on behalf of the Safe.
type TradingModule struct {
	sender  TxSender
	address common.Address
	abi     abi.ABI
}

func NewTradingModule(sender TxSender, address common.Address) (*TradingModule, error) {
	parsed, err := abi.JSON(tradingModuleABI())
	if err != nil {
		return nil, fmt.Errorf("parse trading module ABI: %w", err)
	}
	return &TradingModule{sender: sender, address: address, abi: parsed}, nil
}

// PackSetOrder encodes setOrder(orderUid, order, signed).
func (m *TradingModule) PackSetOrder(orderUID []byte, order OrderData, signed bool) ([]byte, error) {
	data, err := m.abi.Pack("setOrder", orderUID, order, signed)
	if err != nil {
		return nil, fmt.Errorf("pack setOrder: %w", err)
	}
	return data, nil
}

// SetOrder sends the presign transaction and returns its hash.
func (m *TradingModule) SetOrder(ctx context.Context, orderUID []byte, order OrderData, signed bool) (string, error) {
	data, err := m.PackSetOrder(orderUID, order, signed)
	if err != nil {
		return "", err
	}
	txHash, err := m.sender.SignAndSend(ctx, m.address, nil, data)
	if err != nil {
		return "", fmt.Errorf("setOrder: %w", err)
	}
	return txHash, nil
}

// Allowlist reads the on-chain TokenAllowlist.
type Allowlist struct {
	caller  Caller
	address common.Address
	abi     abi.ABI
}

func NewAllowlist(caller Caller, address common.Address) (*Allowlist, error) {
	parsed, err := abi.JSON(tokenAllowlistABI())
	if err != nil {
		return nil, fmt.Errorf("parse allowlist ABI: %w", err)
	}
	return &Allowlist{caller: caller, address: address, abi: parsed}, nil
}

func (a *Allowlist) IsAllowed(ctx context.Context, token common.Address) (bool, error) {
	input, err := a.abi.Pack("isAllowed", token)
	if err != nil {
		return false, fmt.Errorf("pack isAllowed: %w", err)
	}
	raw, err := a.caller.CallContract(ctx, a.address, input)
	if err != nil {
		return false, fmt.Errorf("isAllowed %s: %w", token.Hex(), err)
	}
	vals, err := a.abi.Unpack("isAllowed", raw)
	if err != nil {
		return false, fmt.Errorf("unpack isAllowed: %w", err)
	}
	allowed, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isAllowed type %T", vals[0])
	}
	return allowed, nil
}
