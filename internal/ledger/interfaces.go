package ledger

import "context"

// Endpoint is the ledger network capability a heartbeat needs. Amounts are
// in lamports, identifiers are base58 signatures.
type Endpoint interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	RequestAirdrop(ctx context.Context, address string, lamports uint64) (string, error)
	ConfirmTransfer(ctx context.Context, transferID string) error
	GetLatestBlockhash(ctx context.Context) (string, error)
	SendTransaction(ctx context.Context, tx SignedTransaction) (string, error)
	ConfirmTransaction(ctx context.Context, transactionID string) error
}

// EndpointFactory returns an Endpoint bound to a network URL. The URL is
// part of the schedule configuration and may change between ticks.
type EndpointFactory func(url string) (Endpoint, error)

// IdentityStore persists the signing identity.
// Load returns ErrIdentityNotFound when nothing is stored at path.
// Save must not overwrite: it returns ErrIdentityExists when path is taken.
type IdentityStore interface {
	Load(path string) (Keypair, error)
	Save(path string, kp Keypair) error
}

// TransferBuilder encodes and signs a single value transfer.
type TransferBuilder func(from Keypair, to string, lamports uint64, blockhash string) (SignedTransaction, error)

// SignedTransaction is a serialized, signed transaction ready to submit.
type SignedTransaction struct {
	Raw       []byte
	Signature string
}
