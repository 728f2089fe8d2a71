package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	algotypes "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/gagliardetto/solana-go"
	"github.com/stellar/go/keypair"
	"golang.org/x/crypto/blake2b"

	"github.com/x402labs/facilitator/types"
)

// Solana signs as fee payer on Solana transactions.
type Solana struct {
	key solana.PrivateKey
}

func NewSolana(privateKeyBase58 string) (*Solana, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "invalid Solana private key")
	}
	return &Solana{key: key}, nil
}

func (s *Solana) PublicKey() solana.PublicKey { return s.key.PublicKey() }

func (s *Solana) Sign(message []byte) (solana.Signature, error) {
	sig, err := s.key.Sign(message)
	if err != nil {
		return solana.Signature{}, types.WrapError(types.ErrProviderUnavailable, err, "sign transaction message")
	}
	return sig, nil
}

// Near signs relayed transactions for a named NEAR account.
type Near struct {
	accountID string
	key       ed25519.PrivateKey
}

// NewNear takes the relayer account id and a hex-encoded ed25519 seed.
func NewNear(accountID, seedHex string) (*Near, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, types.NewError(types.ErrDecoding, "invalid NEAR key seed")
	}
	return &Near{accountID: accountID, key: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *Near) AccountID() string            { return s.accountID }
func (s *Near) PublicKey() ed25519.PublicKey { return s.key.Public().(ed25519.PublicKey) }
func (s *Near) Sign(message []byte) []byte   { return ed25519.Sign(s.key, message) }

// Stellar signs host-function invocations with the sponsor source account.
type Stellar struct {
	full *keypair.Full
}

func NewStellar(seed string) (*Stellar, error) {
	full, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "invalid Stellar seed")
	}
	return &Stellar{full: full}, nil
}

func (s *Stellar) Address() string        { return s.full.Address() }
func (s *Stellar) Keypair() *keypair.Full { return s.full }

// Algorand co-signs fee transactions in atomic groups.
type Algorand struct {
	account algocrypto.Account
}

func NewAlgorand(mnemonicPhrase string) (*Algorand, error) {
	sk, err := mnemonic.ToPrivateKey(mnemonicPhrase)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "invalid Algorand mnemonic")
	}
	account, err := algocrypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, types.WrapError(types.ErrDecoding, err, "derive Algorand account")
	}
	return &Algorand{account: account}, nil
}

func (s *Algorand) Address() algotypes.Address { return s.account.Address }

// SignTransaction signs one transaction, returning its id and the signed bytes.
func (s *Algorand) SignTransaction(tx algotypes.Transaction) (string, []byte, error) {
	txid, stx, err := algocrypto.SignTransaction(s.account.PrivateKey, tx)
	if err != nil {
		return "", nil, types.WrapError(types.ErrProviderUnavailable, err, "sign fee transaction")
	}
	return txid, stx, nil
}

// suiEd25519Flag is the signature-scheme flag prefixed to Sui
// serialized signatures and address derivation input.
const suiEd25519Flag byte = 0x00

// Sui sponsors gas on Sui programmable transaction blocks.
type Sui struct {
	key     ed25519.PrivateKey
	address string
}

func NewSui(seedHex string) (*Sui, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, types.NewError(types.ErrDecoding, "invalid Sui key seed")
	}
	key := ed25519.NewKeyFromSeed(seed)

	// Sui address = blake2b-256(flag || pubkey), hex with 0x prefix.
	payload := append([]byte{suiEd25519Flag}, key.Public().(ed25519.PublicKey)...)
	digest := blake2b.Sum256(payload)
	return &Sui{key: key, address: "0x" + hex.EncodeToString(digest[:])}, nil
}

func (s *Sui) Address() string { return s.address }

// SignTxBytes signs BCS transaction bytes under the TransactionData
// intent and returns the serialized (flag || sig || pubkey) signature.
func (s *Sui) SignTxBytes(txBytes []byte) string {
	// Intent scope TransactionData, version 0, app id Sui.
	intent := append([]byte{0, 0, 0}, txBytes...)
	digest := blake2b.Sum256(intent)
	sig := ed25519.Sign(s.key, digest[:])

	serialized := make([]byte, 0, 1+len(sig)+ed25519.PublicKeySize)
	serialized = append(serialized, suiEd25519Flag)
	serialized = append(serialized, sig...)
	serialized = append(serialized, s.key.Public().(ed25519.PublicKey)...)
	return base64.StdEncoding.EncodeToString(serialized)
}
