package core

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vaultchain/core/events"
	"vaultchain/core/genesis"
	"vaultchain/core/state"
	"vaultchain/core/types"
	"vaultchain/crypto"
	nativecommon "vaultchain/native/common"
	"vaultchain/native/loan"
	"vaultchain/observability"
	"vaultchain/observability/logging"
	"vaultchain/storage"
)

var (
	// ErrMalformedTx marks transactions that cannot be decoded or whose
	// signature cannot be recovered. They are rejected like any other
	// invalid transaction.
	ErrMalformedTx = errors.New("malformed transaction")

	errUnexpectedHeight = errors.New("unexpected block height")
	errParentMismatch   = errors.New("block does not extend the current head")
)

// Receipt reports the outcome of one transaction.
type Receipt struct {
	TxHash  []byte         `json:"txHash"`
	Type    string         `json:"type"`
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Events  []*types.Event `json:"events,omitempty"`
}

// BlockResult summarises an applied block.
type BlockResult struct {
	Height     uint64         `json:"height"`
	Hash       []byte         `json:"hash"`
	Receipts   []*Receipt     `json:"receipts"`
	Migrated   int            `json:"migrated"`
	Liquidated []string       `json:"liquidated"`
	Events     []*types.Event `json:"events,omitempty"`
}

// Processor applies blocks to the ledger one at a time. Each block runs the
// same pipeline: price updates, scheme destruction, transactions in order,
// the liquidation scan and a single commit. Queries take a read lock and
// never observe a partially applied block.
type Processor struct {
	mu sync.RWMutex

	db        storage.Database
	state     *state.Manager
	params    loan.Params
	pauses    nativecommon.PauseView
	authority []crypto.Address
	logger    *slog.Logger
	metrics   interface {
		ObserveOperation(op, outcome string, duration time.Duration)
		RecordLiquidations(n int)
		RecordMigrations(n int)
		SetHeight(height uint64)
	}

	height   uint64
	headHash []byte
}

// Option customises a Processor.
type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPauses installs the module pause view consulted by every mutating
// operation.
func WithPauses(pauses nativecommon.PauseView) Option {
	return func(p *Processor) { p.pauses = pauses }
}

// WithSchemeAuthority restricts scheme administration to the given
// addresses.
func WithSchemeAuthority(addrs []crypto.Address) Option {
	return func(p *Processor) { p.authority = append([]crypto.Address(nil), addrs...) }
}

// NewProcessor opens the ledger stored in db.
func NewProcessor(db storage.Database, params loan.Params, opts ...Option) (*Processor, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{
		db:      db,
		state:   state.NewManager(db),
		params:  params,
		logger:  slog.Default(),
		metrics: observability.LoanMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	height, err := p.state.Height()
	if err != nil {
		return nil, fmt.Errorf("load head height: %w", err)
	}
	hash, err := p.state.BlockHash()
	if err != nil {
		return nil, fmt.Errorf("load head hash: %w", err)
	}
	p.height = height
	p.headHash = hash
	return p, nil
}

// Initialized reports whether a genesis state has been committed.
func (p *Processor) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.headHash) > 0
}

// InitGenesis seeds an empty ledger. It is a no-op once a genesis state
// exists.
func (p *Processor) InitGenesis(spec *genesis.GenesisSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.headHash) > 0 {
		return nil
	}
	header, err := genesis.Apply(spec, p.state)
	if err != nil {
		p.state.Discard()
		return err
	}
	if err := p.state.Commit(); err != nil {
		p.state.Discard()
		return err
	}
	hash, err := header.Hash()
	if err != nil {
		return err
	}
	p.height = 0
	p.headHash = hash
	if len(p.authority) == 0 {
		p.authority = spec.Authority()
	}
	p.logger.Info("genesis applied",
		slog.Int("tokens", len(spec.Tokens)),
		slog.Int("schemes", len(spec.Schemes)))
	return nil
}

// Height returns the height of the last applied block.
func (p *Processor) Height() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.height
}

// HeadHash returns the hash of the last applied block header.
func (p *Processor) HeadHash() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]byte(nil), p.headHash...)
}

// NextHeader returns a header extending the current head.
func (p *Processor) NextHeader(timestamp time.Time) *types.BlockHeader {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &types.BlockHeader{
		Height:    p.height + 1,
		Timestamp: timestamp.Unix(),
		PrevHash:  append([]byte(nil), p.headHash...),
	}
}

func (p *Processor) engine(mgr *state.Manager, height uint64, emitter events.Emitter) *loan.Engine {
	engine := loan.NewEngine(p.params)
	engine.SetState(mgr.Loans())
	engine.SetPriceFeed(mgr)
	engine.SetLedger(mgr)
	engine.SetTokenRegistry(mgr)
	engine.SetPauses(p.pauses)
	engine.SetEmitter(emitter)
	engine.SetSchemeAuthority(p.authority)
	engine.SetBlockHeight(height)
	return engine
}

// Query runs fn against the committed state at the current height.
func (p *Processor) Query(fn func(engine *loan.Engine, mgr *state.Manager) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	view := p.state.Fork()
	return fn(p.engine(view, p.height, events.NoopEmitter{}), view)
}

// ApplyBlock executes block on top of the current head and commits it.
// Rejected transactions are reported in their receipts; any other failure
// aborts the whole block and leaves the ledger untouched.
func (p *Processor) ApplyBlock(block *types.Block) (*BlockResult, error) {
	if block == nil || block.Header == nil {
		return nil, fmt.Errorf("block header required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	height := block.Header.Height
	if height != p.height+1 {
		return nil, fmt.Errorf("%w: got %d, want %d", errUnexpectedHeight, height, p.height+1)
	}
	if len(block.Header.PrevHash) > 0 && !bytes.Equal(block.Header.PrevHash, p.headHash) {
		return nil, errParentMismatch
	}

	result, err := p.applyBlock(block)
	if err != nil {
		p.state.Discard()
		p.logger.Error("block aborted", slog.Uint64("height", height), slog.Any("error", err))
		return nil, err
	}
	if err := p.state.Commit(); err != nil {
		p.state.Discard()
		p.logger.Error("block commit failed", slog.Uint64("height", height), slog.Any("error", err))
		return nil, err
	}
	p.height = height
	p.headHash = result.Hash
	p.metrics.SetHeight(height)
	return result, nil
}

func (p *Processor) applyBlock(block *types.Block) (*BlockResult, error) {
	header := *block.Header
	height := header.Height
	txRoot, err := ComputeTxRoot(block.Transactions)
	if err != nil {
		return nil, fmt.Errorf("tx root: %w", err)
	}
	if len(header.TxRoot) > 0 && !bytes.Equal(header.TxRoot, txRoot) {
		return nil, fmt.Errorf("tx root mismatch at height %d", height)
	}
	header.TxRoot = txRoot
	if len(header.PrevHash) == 0 {
		header.PrevHash = append([]byte(nil), p.headHash...)
	}
	hash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	result := &BlockResult{Height: height, Hash: hash}

	for _, update := range block.Prices {
		price, err := loan.ParseAmount(update.Price)
		if err != nil {
			return nil, fmt.Errorf("price %s at height %d: %w", update.Feed, height, err)
		}
		if err := p.state.SetPrice(update.Feed, price, height, update.IsLive()); err != nil {
			return nil, err
		}
	}

	recorder := &events.Recorder{}
	migrated, err := p.engine(p.state, height, recorder).OnNewBlock(height)
	if err != nil {
		return nil, fmt.Errorf("scheme maintenance at height %d: %w", height, err)
	}
	result.Migrated = migrated
	if migrated > 0 {
		p.metrics.RecordMigrations(migrated)
		p.logger.Info("vaults migrated to default scheme",
			slog.Uint64("height", height), slog.Int("count", migrated))
	}

	for _, tx := range block.Transactions {
		receipt, err := p.applyTransaction(height, tx)
		if err != nil {
			return nil, err
		}
		result.Receipts = append(result.Receipts, receipt)
	}

	liquidated, err := p.engine(p.state, height, recorder).EndBlock(height)
	if err != nil {
		return nil, fmt.Errorf("liquidation scan at height %d: %w", height, err)
	}
	result.Liquidated = liquidated
	for _, id := range liquidated {
		p.logger.Info("vault liquidated", slog.Uint64("height", height), slog.String("vaultId", id))
	}
	p.metrics.RecordLiquidations(len(liquidated))
	result.Events = recorder.Drain()

	if err := p.state.SetHeight(height); err != nil {
		return nil, err
	}
	if err := p.state.SetBlockHash(hash); err != nil {
		return nil, err
	}
	return result, nil
}

// applyTransaction runs tx in its own overlay. The overlay is merged only
// when the operation succeeds.
func (p *Processor) applyTransaction(height uint64, tx *types.Transaction) (*Receipt, error) {
	start := time.Now()
	receipt := &Receipt{Type: tx.Type.String()}
	hash, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash transaction: %w", err)
	}
	receipt.TxHash = hash

	fork := p.state.Fork()
	recorder := &events.Recorder{}
	err = p.dispatch(fork, recorder, height, hash, tx)
	switch {
	case err == nil:
		if err := fork.Merge(); err != nil {
			return nil, err
		}
		receipt.Success = true
		receipt.Events = recorder.Drain()
		p.metrics.ObserveOperation(receipt.Type, "success", time.Since(start))
	case isRejection(err):
		receipt.Code = rejectionCode(err)
		receipt.Error = err.Error()
		p.metrics.ObserveOperation(receipt.Type, "rejected", time.Since(start))
		p.logger.Debug("transaction rejected",
			slog.Uint64("height", height),
			slog.String("op", receipt.Type),
			slog.String("code", receipt.Code),
			slog.String("reason", receipt.Error))
	default:
		p.metrics.ObserveOperation(receipt.Type, "error", time.Since(start))
		return nil, fmt.Errorf("%s at height %d: %w", receipt.Type, height, err)
	}
	return receipt, nil
}

func isRejection(err error) bool {
	return loan.IsRejection(err) || errors.Is(err, ErrMalformedTx)
}

func rejectionCode(err error) string {
	var loanErr *loan.Error
	if errors.As(err, &loanErr) {
		return loanErr.Code
	}
	return "malformed_tx"
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedTx, fmt.Sprintf(format, args...))
}

func (p *Processor) dispatch(mgr *state.Manager, emitter events.Emitter, height uint64, hash []byte, tx *types.Transaction) error {
	if !tx.Type.Valid() {
		return malformed("unknown transaction type 0x%02x", byte(tx.Type))
	}
	signer, err := tx.From()
	if err != nil {
		return malformed("recover signer: %v", err)
	}
	ctx := loan.TxContext{Height: height, TxHash: hash, Signer: signer}
	engine := p.engine(mgr, height, emitter)

	switch tx.Type {
	case types.TxTypeCreateLoanScheme:
		var payload types.CreateLoanSchemePayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		rate, err := loan.ParseAmount(payload.InterestRate)
		if err != nil {
			return err
		}
		_, err = engine.CreateLoanScheme(ctx, payload.ID, payload.MinCollateralRatio, rate)
		return err

	case types.TxTypeDestroyLoanScheme:
		var payload types.DestroyLoanSchemePayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		_, err := engine.DestroyLoanScheme(ctx, payload.ID, payload.ActivateAfterBlock)
		return err

	case types.TxTypeSetDefaultScheme:
		var payload types.SetDefaultSchemePayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		return engine.SetDefaultLoanScheme(ctx, payload.ID)

	case types.TxTypeCreateVault:
		var payload types.CreateVaultPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		owner, err := crypto.DecodeAddress(payload.OwnerAddress)
		if err != nil {
			return fmt.Errorf("%w: %v", loan.ErrInvalidOwnerAddress, err)
		}
		vault, err := engine.CreateVault(ctx, owner, payload.SchemeID)
		if err == nil {
			p.logger.Debug("vault created",
				slog.String("vaultId", vault.ID),
				slog.String("owner", logging.MaskAddress(owner.String())))
		}
		return err

	case types.TxTypeUpdateVault:
		var payload types.UpdateVaultPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		opts := loan.UpdateVaultOptions{SchemeID: payload.SchemeID}
		if payload.OwnerAddress != nil {
			owner, err := crypto.DecodeAddress(*payload.OwnerAddress)
			if err != nil {
				return fmt.Errorf("%w: %v", loan.ErrInvalidOwnerAddress, err)
			}
			opts.Owner = &owner
		}
		_, err := engine.UpdateVault(ctx, payload.VaultID, opts)
		return err

	case types.TxTypeDepositToVault:
		var payload types.DepositToVaultPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		from, err := decodeAddress(payload.From)
		if err != nil {
			return err
		}
		amount, err := loan.ParseTokenAmount(payload.Amount)
		if err != nil {
			return err
		}
		_, err = engine.DepositToVault(ctx, payload.VaultID, from, amount)
		return err

	case types.TxTypeWithdrawFromVault:
		var payload types.WithdrawFromVaultPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		to, err := decodeAddress(payload.To)
		if err != nil {
			return err
		}
		amount, err := loan.ParseTokenAmount(payload.Amount)
		if err != nil {
			return err
		}
		_, err = engine.WithdrawFromVault(ctx, payload.VaultID, to, amount)
		return err

	case types.TxTypeTakeLoan:
		var payload types.TakeLoanPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		amounts, err := loan.ParseTokenAmounts(payload.Amounts)
		if err != nil {
			return err
		}
		var to *crypto.Address
		if payload.To != "" {
			addr, err := decodeAddress(payload.To)
			if err != nil {
				return err
			}
			to = &addr
		}
		_, err = engine.TakeLoan(ctx, payload.VaultID, amounts, to)
		return err

	case types.TxTypePaybackLoan:
		var payload types.PaybackLoanPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		from, err := decodeAddress(payload.From)
		if err != nil {
			return err
		}
		amounts, err := loan.ParseTokenAmounts(payload.Amounts)
		if err != nil {
			return err
		}
		_, err = engine.PaybackLoan(ctx, payload.VaultID, from, amounts)
		return err

	case types.TxTypeCloseVault:
		var payload types.CloseVaultPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return malformed("%v", err)
		}
		to, err := decodeAddress(payload.To)
		if err != nil {
			return err
		}
		_, err = engine.CloseVault(ctx, payload.VaultID, to)
		return err
	}
	return malformed("unhandled transaction type %s", tx.Type)
}

func decodeAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", loan.ErrInvalidAddress, err)
	}
	return addr, nil
}
