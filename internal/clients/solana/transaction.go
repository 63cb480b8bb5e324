package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcutil/base58"

	"github.com/ideastake/ledgerbeat/internal/ledger"
)

// SystemProgramID is the all-zero address of the native system program.
const SystemProgramID = "11111111111111111111111111111111"

// systemTransfer is the system program instruction index for Transfer.
const systemTransfer uint32 = 2

// BuildTransfer encodes a legacy transaction with one system transfer from
// the identity to the destination and signs it. It satisfies
// ledger.TransferBuilder.
func BuildTransfer(from ledger.Keypair, to string, lamports uint64, blockhash string) (ledger.SignedTransaction, error) {
	if from.IsZero() {
		return ledger.SignedTransaction{}, fmt.Errorf("missing signer")
	}
	toKey, err := ledger.DecodeAddress(to)
	if err != nil {
		return ledger.SignedTransaction{}, fmt.Errorf("invalid destination: %w", err)
	}
	hash, err := ledger.DecodeAddress(blockhash)
	if err != nil {
		return ledger.SignedTransaction{}, fmt.Errorf("invalid blockhash: %w", err)
	}

	fromKey := from.PublicKey()
	if bytes.Equal(fromKey, toKey[:]) {
		return ledger.SignedTransaction{}, fmt.Errorf("source and destination are the same account")
	}

	message := transferMessage(fromKey, toKey, hash, lamports)
	signature := from.Sign(message)

	raw := make([]byte, 0, 1+len(signature)+len(message))
	raw = appendCompactU16(raw, 1)
	raw = append(raw, signature...)
	raw = append(raw, message...)

	return ledger.SignedTransaction{
		Raw:       raw,
		Signature: base58.Encode(signature),
	}, nil
}

// transferMessage lays out the message as
// header | account keys | recent blockhash | instructions.
func transferMessage(from ed25519.PublicKey, to, blockhash [ledger.AddressLength]byte, lamports uint64) []byte {
	var systemProgram [ledger.AddressLength]byte

	msg := make([]byte, 0, 3+1+3*ledger.AddressLength+ledger.AddressLength+1+1+1+2+1+12)

	// One signer (fee payer), no read-only signers, one read-only non-signer.
	msg = append(msg, 1, 0, 1)

	msg = appendCompactU16(msg, 3)
	msg = append(msg, from...)
	msg = append(msg, to[:]...)
	msg = append(msg, systemProgram[:]...)

	msg = append(msg, blockhash[:]...)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	msg = appendCompactU16(msg, 1)
	msg = append(msg, 2) // program id index
	msg = appendCompactU16(msg, 2)
	msg = append(msg, 0, 1)
	msg = appendCompactU16(msg, len(data))
	msg = append(msg, data...)

	return msg
}

// appendCompactU16 writes n in the 7-bit varint form used for array lengths.
func appendCompactU16(b []byte, n int) []byte {
	for {
		elem := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(b, elem)
		}
		b = append(b, elem|0x80)
	}
}
