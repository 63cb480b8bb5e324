package ledger

import (
	"context"
	"errors"
	"sync"
)

type mockEndpoint struct {
	mu sync.Mutex

	balance       uint64
	balanceErr    error
	airdropErr    error
	confirmAirErr error
	blockhash     string
	blockhashErr  error
	sendErr       error
	confirmTxErr  error

	airdrops []uint64
	sent     []SignedTransaction
	calls    []string
}

func (m *mockEndpoint) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockEndpoint) GetBalance(ctx context.Context, address string) (uint64, error) {
	m.record("getBalance")
	return m.balance, m.balanceErr
}

func (m *mockEndpoint) RequestAirdrop(ctx context.Context, address string, lamports uint64) (string, error) {
	m.record("requestAirdrop")
	if m.airdropErr != nil {
		return "", m.airdropErr
	}
	m.mu.Lock()
	m.airdrops = append(m.airdrops, lamports)
	m.mu.Unlock()
	return "airdrop-sig", nil
}

func (m *mockEndpoint) ConfirmTransfer(ctx context.Context, transferID string) error {
	m.record("confirmTransfer")
	return m.confirmAirErr
}

func (m *mockEndpoint) GetLatestBlockhash(ctx context.Context) (string, error) {
	m.record("getLatestBlockhash")
	if m.blockhashErr != nil {
		return "", m.blockhashErr
	}
	if m.blockhash == "" {
		return "11111111111111111111111111111111", nil
	}
	return m.blockhash, nil
}

func (m *mockEndpoint) SendTransaction(ctx context.Context, tx SignedTransaction) (string, error) {
	m.record("sendTransaction")
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, tx)
	m.mu.Unlock()
	return tx.Signature, nil
}

func (m *mockEndpoint) ConfirmTransaction(ctx context.Context, transactionID string) error {
	m.record("confirmTransaction")
	return m.confirmTxErr
}

type memoryStore struct {
	mu      sync.Mutex
	keys    map[string]Keypair
	loadErr error
	saveErr error
	saves   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: make(map[string]Keypair)}
}

func (s *memoryStore) Load(path string) (Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Keypair{}, s.loadErr
	}
	kp, ok := s.keys[path]
	if !ok {
		return Keypair{}, ErrIdentityNotFound
	}
	return kp, nil
}

func (s *memoryStore) Save(path string, kp Keypair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := s.keys[path]; ok {
		return ErrIdentityExists
	}
	s.keys[path] = kp
	s.saves++
	return nil
}

func stubBuilder(from Keypair, to string, lamports uint64, blockhash string) (SignedTransaction, error) {
	if blockhash == "" {
		return SignedTransaction{}, errors.New("empty blockhash")
	}
	return SignedTransaction{
		Raw:       []byte(to),
		Signature: "sig-" + blockhash,
	}, nil
}
