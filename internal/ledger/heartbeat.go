// Package ledger implements the heartbeat transaction: a tiny funded transfer
// signed by a persistent identity and confirmed on the ledger network.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMinBalance is the funding threshold and the airdrop amount (0.001 SOL).
	DefaultMinBalance uint64 = 1_000_000
	// DefaultTransferLamports is the heartbeat transfer amount (0.0001 SOL).
	DefaultTransferLamports uint64 = 100_000
	// DefaultDestination receives every heartbeat transfer.
	DefaultDestination = "Hv9Zkh34KashoQLU9MtHMFjXq1uja8iDwK9jM7NUuv2L"
)

// Options configures a Heartbeat. Zero amounts and an empty destination
// fall back to the defaults above.
type Options struct {
	KeypairPath      string
	Store            IdentityStore
	Dial             EndpointFactory
	Build            TransferBuilder
	Destination      string
	MinBalance       uint64
	TransferLamports uint64
	// StepTimeout bounds each call to the endpoint. Zero means no bound.
	StepTimeout time.Duration
}

// Heartbeat performs one funded, signed and confirmed transfer per Execute.
// It is safe for concurrent use; identity creation happens at most once.
type Heartbeat struct {
	keypairPath      string
	store            IdentityStore
	dial             EndpointFactory
	build            TransferBuilder
	destination      string
	minBalance       uint64
	transferLamports uint64
	stepTimeout      time.Duration
	log              zerolog.Logger

	identityMu sync.Mutex
}

// NewHeartbeat validates opts and returns a ready operation.
func NewHeartbeat(opts Options, log zerolog.Logger) (*Heartbeat, error) {
	if opts.KeypairPath == "" {
		return nil, fmt.Errorf("keypair path is required")
	}
	if opts.Store == nil || opts.Dial == nil || opts.Build == nil {
		return nil, fmt.Errorf("identity store, endpoint factory and transfer builder are required")
	}
	if opts.Destination == "" {
		opts.Destination = DefaultDestination
	}
	if _, err := DecodeAddress(opts.Destination); err != nil {
		return nil, fmt.Errorf("invalid destination: %w", err)
	}
	if opts.MinBalance == 0 {
		opts.MinBalance = DefaultMinBalance
	}
	if opts.TransferLamports == 0 {
		opts.TransferLamports = DefaultTransferLamports
	}

	return &Heartbeat{
		keypairPath:      opts.KeypairPath,
		store:            opts.Store,
		dial:             opts.Dial,
		build:            opts.Build,
		destination:      opts.Destination,
		minBalance:       opts.MinBalance,
		transferLamports: opts.TransferLamports,
		stepTimeout:      opts.StepTimeout,
		log:              log.With().Str("component", "ledger_heartbeat").Logger(),
	}, nil
}

// Execute runs the heartbeat against the endpoint URL and returns the
// confirmed transaction signature.
func (h *Heartbeat) Execute(ctx context.Context, endpoint string) (string, error) {
	kp, err := h.identity()
	if err != nil {
		return "", err
	}

	client, err := h.dial(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: connect to %s: %w", ErrNetwork, endpoint, err)
	}

	if err := h.ensureFunded(ctx, client, kp.Address()); err != nil {
		return "", err
	}

	hashCtx, cancel := h.step(ctx)
	blockhash, err := client.GetLatestBlockhash(hashCtx)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%w: failed to get recent blockhash: %w", ErrNetwork, err)
	}

	tx, err := h.build(kp, h.destination, h.transferLamports, blockhash)
	if err != nil {
		return "", fmt.Errorf("%w: failed to build transaction: %w", ErrSubmission, err)
	}

	sendCtx, cancel := h.step(ctx)
	signature, err := client.SendTransaction(sendCtx, tx)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%w: failed to send transaction: %w", ErrSubmission, err)
	}

	confirmCtx, cancel := h.step(ctx)
	err = client.ConfirmTransaction(confirmCtx, signature)
	cancel()
	if err != nil {
		return "", fmt.Errorf("%w: transaction %s not confirmed: %w", ErrSubmission, signature, err)
	}

	h.log.Info().
		Str("signature", signature).
		Str("from", kp.Address()).
		Str("to", h.destination).
		Uint64("lamports", h.transferLamports).
		Msg("Heartbeat transaction confirmed")

	return signature, nil
}

// identity loads the persisted keypair or creates it on first use.
func (h *Heartbeat) identity() (Keypair, error) {
	h.identityMu.Lock()
	defer h.identityMu.Unlock()

	kp, err := h.store.Load(h.keypairPath)
	if err == nil {
		h.log.Debug().Str("address", kp.Address()).Msg("Loaded existing keypair")
		return kp, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return Keypair{}, fmt.Errorf("%w: failed to read keypair: %w", ErrIdentity, err)
	}

	kp, err = GenerateKeypair()
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: %w", ErrIdentity, err)
	}

	if err := h.store.Save(h.keypairPath, kp); err != nil {
		if !errors.Is(err, ErrIdentityExists) {
			return Keypair{}, fmt.Errorf("%w: failed to save keypair: %w", ErrIdentity, err)
		}
		// Another process created it first; use theirs.
		existing, loadErr := h.store.Load(h.keypairPath)
		if loadErr != nil {
			return Keypair{}, fmt.Errorf("%w: failed to read keypair: %w", ErrIdentity, loadErr)
		}
		return existing, nil
	}

	h.log.Info().
		Str("address", kp.Address()).
		Str("path", h.keypairPath).
		Msg("Created new keypair")
	return kp, nil
}

// ensureFunded tops the identity up to the minimum balance when needed.
// A failed balance query is logged and treated as an empty account.
func (h *Heartbeat) ensureFunded(ctx context.Context, client Endpoint, address string) error {
	balanceCtx, cancel := h.step(ctx)
	balance, err := client.GetBalance(balanceCtx, address)
	cancel()
	if err != nil {
		h.log.Warn().Err(err).Str("address", address).Msg("Failed to get balance, requesting airdrop")
	} else if balance >= h.minBalance {
		h.log.Debug().Uint64("balance", balance).Msg("Account has sufficient balance")
		return nil
	} else {
		h.log.Info().Uint64("balance", balance).Msg("Account balance low, requesting airdrop")
	}

	airdropCtx, cancel := h.step(ctx)
	transferID, err := client.RequestAirdrop(airdropCtx, address, h.minBalance)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: airdrop request failed: %w", ErrFunding, err)
	}
	h.log.Info().Str("signature", transferID).Msg("Airdrop requested")

	confirmCtx, cancel := h.step(ctx)
	err = client.ConfirmTransfer(confirmCtx, transferID)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: airdrop confirmation failed: %w", ErrFunding, err)
	}
	h.log.Info().Str("signature", transferID).Msg("Airdrop confirmed")
	return nil
}

func (h *Heartbeat) step(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.stepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.stepTimeout)
}
