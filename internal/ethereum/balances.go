package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

type multicallCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type multicallResult struct {
	Success    bool
	ReturnData []byte
}

// Balances reads ERC-20 balances, batched through Multicall3 when an
// aggregator address is configured.
type Balances struct {
	caller    Caller
	multicall common.Address
	erc20     abi.ABI
	mc        abi.ABI
}

func NewBalances(caller Caller, multicall common.Address) (*Balances, error) {
	e, err := abi.JSON(erc20ABI())
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}
	m, err := abi.JSON(multicall3ABI())
	if err != nil {
		return nil, fmt.Errorf("parse multicall ABI: %w", err)
	}
	return &Balances{caller: caller, multicall: multicall, erc20: e, mc: m}, nil
}

// BalancesOf returns owner's balance of every token.
func (b *Balances) BalancesOf(ctx context.Context, owner common.Address, tokens []common.Address) (map[common.Address]*big.Int, error) {
	if len(tokens) == 0 {
		return map[common.Address]*big.Int{}, nil
	}
	callData, err := b.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	if b.multicall == (common.Address{}) {
		return b.sequential(ctx, tokens, callData)
	}

	calls := make([]multicallCall, len(tokens))
	for i, t := range tokens {
		calls[i] = multicallCall{Target: t, CallData: callData}
	}
	input, err := b.mc.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}
	raw, err := b.caller.CallContract(ctx, b.multicall, input)
	if err != nil {
		return nil, fmt.Errorf("aggregate3 call: %w", err)
	}
	out, err := b.mc.Unpack("aggregate3", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	results := *abi.ConvertType(out[0], new([]multicallResult)).(*[]multicallResult)
	if len(results) != len(tokens) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(results), len(tokens))
	}

	balances := make(map[common.Address]*big.Int, len(tokens))
	for i, r := range results {
		if !r.Success {
			return nil, fmt.Errorf("balanceOf %s failed", tokens[i].Hex())
		}
		bal, err := b.decodeBalance(r.ReturnData)
		if err != nil {
			return nil, fmt.Errorf("balanceOf %s: %w", tokens[i].Hex(), err)
		}
		balances[tokens[i]] = bal
	}
	return balances, nil
}

func (b *Balances) sequential(ctx context.Context, tokens []common.Address, callData []byte) (map[common.Address]*big.Int, error) {
	balances := make(map[common.Address]*big.Int, len(tokens))
	for _, t := range tokens {
		raw, err := b.caller.CallContract(ctx, t, callData)
		if err != nil {
			return nil, fmt.Errorf("balanceOf %s: %w", t.Hex(), err)
		}
		bal, err := b.decodeBalance(raw)
		if err != nil {
			return nil, fmt.Errorf("balanceOf %s: %w", t.Hex(), err)
		}
		balances[t] = bal
	}
	return balances, nil
}

func (b *Balances) decodeBalance(raw []byte) (*big.Int, error) {
	vals, err := b.erc20.Unpack("balanceOf", raw)
	if err != nil {
		return nil, err
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", vals[0])
	}
	return bal, nil
}
