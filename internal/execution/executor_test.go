package execution

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/model"
)

const (
	signerAddr = "0x00000000000000000000000000000000000000aa"
	tokenAddr  = "0x0000000000000000000000000000000000000001"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	chainID  int64
	gas      uint64
	nonce    uint64
	baseFee  *big.Int
	tip      *big.Int
	sendErr  error
	estErr   error
	sent     []*types.Transaction
	estimate []ethereum.CallMsg
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.estimate = append(f.estimate, msg)
	return f.gas, f.estErr
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

type staticSigner struct{}

func (staticSigner) Address() common.Address {
	return common.HexToAddress(signerAddr)
}

func (staticSigner) SignTx(_ *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func newTestSubmitter(t *testing.T, backend *fakeBackend) (*Submitter, *Journal) {
	t.Helper()
	dir := t.TempDir()
	journal, err := OpenJournal(filepath.Join(dir, "submissions.db"), filepath.Join(dir, "submissions.lock"))
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return NewSubmitter(SubmitterConfig{
		Backend: backend,
		Signer:  staticSigner{},
		Journal: journal,
		ChainID: 1,
		Logger:  zerolog.Nop(),
	}), journal
}

func TestSendTransactionLegacyGasPrice(t *testing.T) {
	backend := &fakeBackend{chainID: 1, gas: 50_000, nonce: 7}
	sub, journal := newTestSubmitter(t, backend)

	got, err := sub.SendTransaction(context.Background(), model.RawTx{
		From:     signerAddr,
		To:       tokenAddr,
		Data:     approveHex(t),
		GasPrice: "3000000000",
	})
	if err != nil {
		t.Fatalf("SendTransaction failed: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Type() != types.LegacyTxType || tx.GasPrice().String() != "3000000000" {
		t.Fatalf("expected legacy tx at 3 gwei, got type %d price %s", tx.Type(), tx.GasPrice())
	}
	if tx.Gas() != 60_000 || tx.Nonce() != 7 {
		t.Fatalf("unexpected gas/nonce %d/%d", tx.Gas(), tx.Nonce())
	}
	if got.Hash != tx.Hash().Hex() || got.ChainID != 1 || got.ID == "" {
		t.Fatalf("unexpected submission %+v", got)
	}

	rec, err := journal.Get(got.ID)
	if err != nil {
		t.Fatalf("journal Get failed: %v", err)
	}
	if rec.Status != StatusSubmitted || rec.Submission.Hash != got.Hash {
		t.Fatalf("unexpected journal record %+v", rec)
	}
}

func TestSendTransactionDynamicFee(t *testing.T) {
	backend := &fakeBackend{chainID: 1, gas: 10_000, baseFee: big.NewInt(10), tip: big.NewInt(2)}
	sub, _ := newTestSubmitter(t, backend)

	if _, err := sub.SendTransaction(context.Background(), model.RawTx{To: tokenAddr, Data: approveHex(t)}); err != nil {
		t.Fatalf("SendTransaction failed: %v", err)
	}
	tx := backend.sent[0]
	if tx.Type() != types.DynamicFeeTxType {
		t.Fatalf("expected dynamic fee tx, got %d", tx.Type())
	}
	if tx.GasFeeCap().Int64() != 22 || tx.GasTipCap().Int64() != 2 {
		t.Fatalf("unexpected fees cap=%s tip=%s", tx.GasFeeCap(), tx.GasTipCap())
	}
	if backend.estimate[0].From != common.HexToAddress(signerAddr) {
		t.Fatalf("expected estimate from signer, got %s", backend.estimate[0].From.Hex())
	}
}

func TestSendTransactionRejectsForeignSender(t *testing.T) {
	sub, _ := newTestSubmitter(t, &fakeBackend{chainID: 1})
	_, err := sub.SendTransaction(context.Background(), model.RawTx{From: tokenAddr, To: tokenAddr})
	if !clierr.HasCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestSendTransactionRejectsChainMismatch(t *testing.T) {
	sub, _ := newTestSubmitter(t, &fakeBackend{chainID: 250})
	_, err := sub.SendTransaction(context.Background(), model.RawTx{To: tokenAddr, Data: approveHex(t)})
	if !clierr.HasCode(err, clierr.CodeTransaction) {
		t.Fatalf("expected transaction error, got %v", err)
	}
}

func TestSendTransactionBroadcastFailureIsJournaled(t *testing.T) {
	backend := &fakeBackend{chainID: 1, gas: 21_000, sendErr: errors.New("nonce too low")}
	sub, journal := newTestSubmitter(t, backend)

	_, err := sub.SendTransaction(context.Background(), model.RawTx{To: tokenAddr, Data: approveHex(t), GasPrice: "1"})
	if !clierr.HasCode(err, clierr.CodeTransaction) {
		t.Fatalf("expected transaction error, got %v", err)
	}
	failed, err := journal.List(StatusFailed, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || !strings.Contains(failed[0].Error, "nonce too low") {
		t.Fatalf("expected failed journal record, got %+v", failed)
	}
}

func TestSendTransactionEstimateRevertIncludesReason(t *testing.T) {
	backend := &fakeBackend{chainID: 1, estErr: testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "approve from the zero address")),
	}}
	sub, _ := newTestSubmitter(t, backend)
	_, err := sub.SendTransaction(context.Background(), model.RawTx{To: tokenAddr, Data: approveHex(t)})
	if err == nil || !strings.Contains(err.Error(), "approve from the zero address") {
		t.Fatalf("expected decoded revert reason, got %v", err)
	}
}

func TestSendTransactionBlocksNonApprovalCalldata(t *testing.T) {
	backend := &fakeBackend{chainID: 1, gas: 21_000}
	sub, _ := newTestSubmitter(t, backend)
	_, err := sub.SendTransaction(context.Background(), model.RawTx{To: tokenAddr, Data: "0xa9059cbb"})
	if !clierr.HasCode(err, clierr.CodeBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatal("blocked transaction must not be broadcast")
	}
}

func TestSendTransactionRequiresSigner(t *testing.T) {
	sub := NewSubmitter(SubmitterConfig{Backend: &fakeBackend{chainID: 1}, Logger: zerolog.Nop()})
	_, err := sub.SendTransaction(context.Background(), model.RawTx{To: tokenAddr})
	if !clierr.HasCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestDecodeRevertDataReasonString(t *testing.T) {
	revertData := encodeErrorString(t, "slippage too high")
	reason := decodeRevertData(revertData)
	if reason != "slippage too high" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	revertData := common.FromHex("0x12345678")
	reason := decodeRevertData(revertData)
	if !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestWrapEVMExecutionErrorIncludesDecodedRevert(t *testing.T) {
	revertData := encodeErrorString(t, "panic path")
	rootErr := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(revertData),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeTransaction, "estimate gas", rootErr)
	var typed *clierr.Error
	if !errors.As(wrapped, &typed) {
		t.Fatalf("expected typed cli error, got %T", wrapped)
	}
	if !strings.Contains(typed.Error(), "panic path") {
		t.Fatalf("expected decoded reason in wrapped error, got: %v", typed)
	}
}

func TestParseGwei(t *testing.T) {
	v, err := parseGwei("1.5")
	if err != nil || v.String() != "1500000000" {
		t.Fatalf("unexpected parseGwei result %v %v", v, err)
	}
	if _, err := parseGwei("-1"); err == nil {
		t.Fatal("expected negative gwei to fail")
	}
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	unlock := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress(signerAddr))
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress(signerAddr))
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

func approveHex(t *testing.T) string {
	t.Helper()
	return "0x" + common.Bytes2Hex(approveCalldata(t, common.HexToAddress("0x00000000000000000000000000000000000000bb"), big.NewInt(500)))
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	args := abi.Arguments{{Type: stringTy}}
	encoded, err := args.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}
