package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

var ErrNoSigner = errors.New("no private key configured")

type Client struct {
	rpc        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	signer     common.Address
	chainID    *big.Int
	gasLimit   uint64
	gasMul     float64
	limiter    *rate.Limiter
}

type ClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	ChainID       int64
	GasLimit      int
	GasMultiplier float64
	// RequestsPerSecond paces eth_getLogs calls. Zero disables pacing.
	RequestsPerSecond float64
}

// NewClient dials the node. Without a private key the client is read-only
// and SignAndSend returns ErrNoSigner.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}

	c := &Client{
		rpc:      rpc,
		chainID:  big.NewInt(cfg.ChainID),
		gasLimit: uint64(cfg.GasLimit),
		gasMul:   cfg.GasMultiplier,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	if cfg.PrivateKeyHex != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.privateKey = pk
		c.signer = crypto.PubkeyToAddress(pk.PublicKey)
	}
	return c, nil
}

func (c *Client) SignerAddress() common.Address { return c.signer }
func (c *Client) CanSign() bool                 { return c.privateKey != nil }
func (c *Client) Close()                        { c.rpc.Close() }

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.rpc.BlockNumber(ctx)
}

// FilterLogs runs eth_getLogs, waiting on the rate limiter first.
func (c *Client) FilterLogs(ctx context.Context, q geth.FilterQuery) ([]types.Log, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.rpc.FilterLogs(ctx, q)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if c.gasMul <= 0 {
		return price, nil
	}
	mul := new(big.Float).SetFloat64(c.gasMul)
	adjusted := new(big.Float).Mul(new(big.Float).SetInt(price), mul)
	result, _ := adjusted.Int(nil)
	return result, nil
}

// SignAndSend signs a legacy transaction and broadcasts it, returning the tx hash.
func (c *Client) SignAndSend(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error) {
	if c.privateKey == nil {
		return "", ErrNoSigner
	}
	nonce, err := c.rpc.PendingNonceAt(ctx, c.signer)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("get gas price: %w", err)
	}
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	return signed.Hash().Hex(), nil
}

// CallContract performs a read-only eth_call against the latest block.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.rpc.CallContract(ctx, geth.CallMsg{To: &to, Data: data}, nil)
}
