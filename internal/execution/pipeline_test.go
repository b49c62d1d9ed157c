package execution

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/cowtrader/internal/ethereum"
	"github.com/kjannette/cowtrader/internal/external"
	"github.com/kjannette/cowtrader/internal/repository"
)

var (
	safe    = common.HexToAddress("0xbc3c7818177dA740292659b574D48B699Fdf0816")
	gno     = common.HexToAddress("0x9C58BAcC331c9aa871AFD802DB6379a98e80CEdb")
	cow     = common.HexToAddress("0x177127622c4A00F3d409B75571e12cB3c8973d3c")
	appHash = "0xb48d38f93eaa084033fc5970bf96e559c33c4cdc07d889ab00b4d63f9590739d"
)

type fakeAPI struct {
	quoteErr  error
	submitErr error
	uid       string

	quoteReq  external.QuoteRequest
	submitted []external.OrderRequest
}

func (f *fakeAPI) Quote(ctx context.Context, req external.QuoteRequest) (external.QuoteResponse, error) {
	f.quoteReq = req
	if f.quoteErr != nil {
		return external.QuoteResponse{}, f.quoteErr
	}
	return external.QuoteResponse{
		ID:   77,
		From: req.From,
		Quote: external.Quote{
			SellToken:        req.SellToken,
			BuyToken:         req.BuyToken,
			Receiver:         req.Receiver,
			SellAmount:       "190",
			BuyAmount:        "4000",
			ValidTo:          1735689600,
			AppData:          appHash,
			AppDataHash:      appHash,
			FeeAmount:        "10",
			Kind:             "sell",
			SellTokenBalance: "erc20",
			BuyTokenBalance:  "erc20",
		},
	}, nil
}

func (f *fakeAPI) SubmitOrder(ctx context.Context, order external.OrderRequest) (string, error) {
	f.submitted = append(f.submitted, order)
	return f.uid, f.submitErr
}

type fakeSigner struct {
	err   error
	calls int
	uid   string
}

func (f *fakeSigner) Sign(ctx context.Context, uid string, order external.OrderRequest) (string, error) {
	f.calls++
	f.uid = uid
	return "0xtx", f.err
}

func newPipeline(t *testing.T, api *fakeAPI, signer *fakeSigner, dryRun bool) (*Pipeline, *repository.CSVOrderRepo) {
	t.Helper()
	orders := repository.NewCSVOrderRepo(filepath.Join(t.TempDir(), "orders.csv"))
	return NewPipeline(api, signer, orders, Config{Account: safe, AppDataHash: appHash, DryRun: dryRun}), orders
}

func TestExecute_FullSuccess(t *testing.T) {
	api := &fakeAPI{uid: "0x0102"}
	signer := &fakeSigner{}
	p, orders := newPipeline(t, api, signer, false)

	uid, err := p.Execute(context.Background(), gno, cow, big.NewInt(200))
	require.NoError(t, err)
	assert.Equal(t, "0x0102", uid)

	assert.Equal(t, "200", api.quoteReq.SellAmountBeforeFee)
	assert.Equal(t, safe.Hex(), api.quoteReq.From)
	assert.Equal(t, safe.Hex(), api.quoteReq.Receiver)

	require.Len(t, api.submitted, 1)
	assert.Equal(t, "0", api.submitted[0].FeeAmount)
	assert.Equal(t, int64(77), api.submitted[0].QuoteID)
	assert.Equal(t, "0x0102", signer.uid)

	rows, err := orders.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Signed)
	assert.Equal(t, "190", rows[0].SellAmount)
	assert.Equal(t, uint32(1735689600), rows[0].ValidTo)
}

func TestExecute_InsufficientBalance(t *testing.T) {
	api := &fakeAPI{submitErr: &external.OrderError{Status: 400, ErrorType: "InsufficientBalance", Description: "not enough funds"}}
	signer := &fakeSigner{}
	p, orders := newPipeline(t, api, signer, false)

	uid, err := p.Execute(context.Background(), gno, cow, big.NewInt(200))
	require.Error(t, err)
	assert.Equal(t, "", uid)
	assert.Equal(t, "InsufficientBalance - not enough funds", err.Error())

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageSubmit, se.Stage)
	assert.False(t, se.Submitted())
	assert.Zero(t, signer.calls)

	rows, err := orders.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows, "rejected orders are not persisted")
}

func TestExecute_QuoteFailure(t *testing.T) {
	api := &fakeAPI{quoteErr: errors.New("quote request failed: HTTP 500")}
	p, _ := newPipeline(t, api, &fakeSigner{}, false)

	_, err := p.Execute(context.Background(), gno, cow, big.NewInt(200))
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageQuote, se.Stage)
	assert.Empty(t, api.submitted)
}

func TestExecute_SigningFailureLeavesOrderUnsigned(t *testing.T) {
	api := &fakeAPI{uid: "0xabcd"}
	signer := &fakeSigner{err: errors.New("nonce too low")}
	p, orders := newPipeline(t, api, signer, false)

	uid, err := p.Execute(context.Background(), gno, cow, big.NewInt(200))
	require.Error(t, err)
	assert.Equal(t, "0xabcd", uid)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageSign, se.Stage)
	assert.True(t, se.Submitted())

	rows, err := orders.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Signed)
}

func TestExecute_DryRun(t *testing.T) {
	api := &fakeAPI{uid: "0xabcd"}
	signer := &fakeSigner{}
	p, orders := newPipeline(t, api, signer, true)

	uid, err := p.Execute(context.Background(), gno, cow, big.NewInt(200))
	require.NoError(t, err)
	assert.Empty(t, uid)
	assert.Empty(t, api.submitted)
	assert.Zero(t, signer.calls)

	rows, err := orders.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecute_RejectsZeroAmount(t *testing.T) {
	api := &fakeAPI{}
	p, _ := newPipeline(t, api, &fakeSigner{}, false)
	_, err := p.Execute(context.Background(), gno, cow, big.NewInt(0))
	require.Error(t, err)
	assert.Empty(t, api.quoteReq.SellToken, "no quote requested")
}

type recordingPresigner struct {
	uid    []byte
	order  ethereum.OrderData
	signed bool
}

func (r *recordingPresigner) SetOrder(ctx context.Context, uid []byte, order ethereum.OrderData, signed bool) (string, error) {
	r.uid, r.order, r.signed = uid, order, signed
	return "0xhash", nil
}

func TestModuleSigner(t *testing.T) {
	rec := &recordingPresigner{}
	s := NewModuleSigner(rec)
	order := external.OrderRequest{
		SellToken:   gno.Hex(),
		BuyToken:    cow.Hex(),
		Receiver:    safe.Hex(),
		SellAmount:  "190",
		BuyAmount:   "4000",
		ValidTo:     1735689600,
		FeeAmount:   "0",
		Kind:        "sell",
		AppData:     appHash,
		AppDataHash: appHash,
	}

	tx, err := s.Sign(context.Background(), "0x0a0b", order)
	require.NoError(t, err)
	assert.Equal(t, "0xhash", tx)
	assert.Equal(t, []byte{0x0a, 0x0b}, rec.uid)
	assert.True(t, rec.signed)
	assert.Equal(t, [32]byte(ethereum.KindSell), rec.order.Kind)
	assert.Equal(t, [32]byte(ethereum.BalanceERC20), rec.order.SellTokenBalance)
	assert.Equal(t, [32]byte(common.HexToHash(appHash)), rec.order.AppData)
	assert.Equal(t, int64(0), rec.order.FeeAmount.Int64())
	assert.Equal(t, gno, rec.order.SellToken)
}

func TestOrderData_BadFields(t *testing.T) {
	base := external.OrderRequest{
		SellToken: gno.Hex(), BuyToken: cow.Hex(), Receiver: safe.Hex(),
		SellAmount: "1", BuyAmount: "1", FeeAmount: "0", AppDataHash: appHash,
	}

	bad := base
	bad.SellAmount = "1e18"
	_, err := OrderData(bad)
	assert.Error(t, err)

	bad = base
	bad.Receiver = "safe"
	_, err = OrderData(bad)
	assert.Error(t, err)

	bad = base
	bad.AppDataHash = "{}"
	_, err = OrderData(bad)
	assert.Error(t, err)

	_, err = NewModuleSigner(&recordingPresigner{}).Sign(context.Background(), "not-hex", base)
	assert.Error(t, err)
}
