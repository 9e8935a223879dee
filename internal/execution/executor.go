// Package execution signs and broadcasts approval transactions and keeps a
// local journal of what was submitted.
package execution

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/defi-tokens/internal/errors"
	"github.com/ggonzalez94/defi-tokens/internal/execution/signer"
	"github.com/ggonzalez94/defi-tokens/internal/id"
	"github.com/ggonzalez94/defi-tokens/internal/model"
)

// Backend is the slice of an Ethereum JSON-RPC client needed to submit a
// transaction. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type SubmitterConfig struct {
	Backend            Backend
	Signer             signer.Signer
	Journal            *Journal
	ChainID            int64
	Kind               string
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	Logger             zerolog.Logger
}

// Submitter turns RawTx requests into signed, broadcast transactions.
type Submitter struct {
	backend            Backend
	signer             signer.Signer
	journal            *Journal
	chainID            int64
	kind               string
	gasMultiplier      float64
	maxFeeGwei         string
	maxPriorityFeeGwei string
	log                zerolog.Logger
	now                func() time.Time
}

func NewSubmitter(cfg SubmitterConfig) *Submitter {
	if cfg.GasMultiplier <= 1 {
		cfg.GasMultiplier = 1.2
	}
	kind := strings.TrimSpace(cfg.Kind)
	if kind == "" {
		kind = "approval"
	}
	return &Submitter{
		backend:            cfg.Backend,
		signer:             cfg.Signer,
		journal:            cfg.Journal,
		chainID:            cfg.ChainID,
		kind:               kind,
		gasMultiplier:      cfg.GasMultiplier,
		maxFeeGwei:         cfg.MaxFeeGwei,
		maxPriorityFeeGwei: cfg.MaxPriorityFeeGwei,
		log:                cfg.Logger.With().Str("component", "execution").Int64("chain_id", cfg.ChainID).Logger(),
		now:                time.Now,
	}
}

// Dial connects to an RPC endpoint usable as a Backend.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return client, nil
}

// SendTransaction signs raw with the configured signer and broadcasts it.
// A GasPrice on raw selects a legacy transaction; otherwise EIP-1559 fees
// are derived from the latest header.
func (s *Submitter) SendTransaction(ctx context.Context, raw model.RawTx) (model.Submission, error) {
	if s.signer == nil {
		return model.Submission{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if s.backend == nil {
		return model.Submission{}, clierr.New(clierr.CodeUnavailable, "no rpc backend configured")
	}
	from := s.signer.Address()
	if strings.TrimSpace(raw.From) != "" && id.NormalizeAddress(raw.From) != id.NormalizeAddress(from.Hex()) {
		return model.Submission{}, clierr.New(clierr.CodeSigner, fmt.Sprintf("signer %s cannot send for %s", from.Hex(), raw.From))
	}
	if !id.IsAddress(raw.To) {
		return model.Submission{}, clierr.New(clierr.CodeUsage, "transaction target must be an address")
	}
	target := common.HexToAddress(raw.To)
	data, err := decodeHex(raw.Data)
	if err != nil {
		return model.Submission{}, clierr.Wrap(clierr.CodeUsage, "decode calldata", err)
	}
	if err := validateApprovalCalldata(data); err != nil {
		return model.Submission{}, err
	}
	value, err := parseWei(raw.Value)
	if err != nil {
		return model.Submission{}, clierr.Wrap(clierr.CodeUsage, "parse transaction value", err)
	}

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return model.Submission{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if s.chainID != 0 && chainID.Int64() != s.chainID {
		return model.Submission{}, clierr.New(clierr.CodeTransaction, fmt.Sprintf("rpc serves chain %d, expected %d", chainID.Int64(), s.chainID))
	}

	unlock := acquireSignerNonceLock(chainID, from)
	defer unlock()

	msg := ethereum.CallMsg{From: from, To: &target, Value: value, Data: data}
	gasLimit, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		return model.Submission{}, wrapEVMExecutionError(clierr.CodeTransaction, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * s.gasMultiplier)

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return model.Submission{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	var tx *types.Transaction
	if strings.TrimSpace(raw.GasPrice) != "" {
		gasPrice, err := parseWei(raw.GasPrice)
		if err != nil {
			return model.Submission{}, clierr.Wrap(clierr.CodeUsage, "parse gas price", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &target,
			Value:    value,
			Data:     data,
		})
	} else {
		tipCap, err := s.resolveTipCap(ctx)
		if err != nil {
			return model.Submission{}, err
		}
		header, err := s.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return model.Submission{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
		}
		baseFee := header.BaseFee
		if baseFee == nil {
			baseFee = big.NewInt(1_000_000_000)
		}
		feeCap, err := resolveFeeCap(baseFee, tipCap, s.maxFeeGwei)
		if err != nil {
			return model.Submission{}, err
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &target,
			Value:     value,
			Data:      data,
		})
	}

	signed, err := s.signer.SignTx(chainID, tx)
	if err != nil {
		return model.Submission{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}

	submission := model.Submission{
		ID:          uuid.NewString(),
		ChainID:     chainID.Int64(),
		From:        id.NormalizeAddress(from.Hex()),
		To:          id.NormalizeAddress(target.Hex()),
		Hash:        signed.Hash().Hex(),
		Nonce:       nonce,
		Gas:         gasLimit,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		s.record(submission, raw, StatusFailed, err.Error())
		return model.Submission{}, wrapEVMExecutionError(clierr.CodeTransaction, "broadcast transaction", err)
	}
	s.record(submission, raw, StatusSubmitted, "")
	s.log.Info().Str("hash", submission.Hash).Str("to", submission.To).Uint64("nonce", nonce).Msg("transaction broadcast")
	return submission, nil
}

func (s *Submitter) record(sub model.Submission, raw model.RawTx, status, errMsg string) {
	if s.journal == nil {
		return
	}
	err := s.journal.Save(Record{
		ID:         sub.ID,
		Kind:       s.kind,
		Status:     status,
		Submission: sub,
		Data:       raw.Data,
		Value:      raw.Value,
		Error:      errMsg,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("id", sub.ID).Msg("journal write failed")
	}
}

func (s *Submitter) resolveTipCap(ctx context.Context) (*big.Int, error) {
	if strings.TrimSpace(s.maxPriorityFeeGwei) != "" {
		v, err := parseGwei(s.maxPriorityFeeGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse max priority fee", err)
		}
		return v, nil
	}
	tipCap, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse max fee", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "max fee must be >= max priority fee")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func parseWei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return new(big.Int), nil
	}
	out, ok := new(big.Int).SetString(clean, 0)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", v)
	}
	return out, nil
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}

var nonceLocks sync.Map

// acquireSignerNonceLock serialises nonce selection per signer and chain.
func acquireSignerNonceLock(chainID *big.Int, from common.Address) func() {
	key := chainID.String() + "|" + strings.ToLower(from.Hex())
	v, _ := nonceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
