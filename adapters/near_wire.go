package adapters

import (
	"crypto/sha256"
	"math/big"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
)

// Borsh wire shapes for NEP-366 meta transactions. Field order is the
// serialization order and must not change.

// nep366Discriminant prefixes the signable form of a delegate action
// (NEP-461: 2^30 + 366).
const nep366Discriminant uint32 = 1<<30 + 366

type nearPublicKey struct {
	KeyType uint8 // 0 = ed25519
	Data    [32]byte
}

func (k nearPublicKey) String() string {
	return "ed25519:" + base58.Encode(k.Data[:])
}

type nearSignature struct {
	KeyType uint8
	Data    [64]byte
}

type nearFunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    big.Int // u128
}

type nearTransfer struct {
	Deposit big.Int
}

type nearDeployContract struct {
	Code []byte
}

type nearStake struct {
	Stake     big.Int
	PublicKey nearPublicKey
}

type nearFunctionCallPermission struct {
	Allowance   *big.Int
	ReceiverID  string
	MethodNames []string
}

type nearAccessKeyPermission struct {
	Enum         borsh.Enum `borsh_enum:"true"`
	FunctionCall nearFunctionCallPermission
	FullAccess   struct{}
}

type nearAccessKey struct {
	Nonce      uint64
	Permission nearAccessKeyPermission
}

type nearAddKey struct {
	PublicKey nearPublicKey
	AccessKey nearAccessKey
}

type nearDeleteKey struct {
	PublicKey nearPublicKey
}

type nearDeleteAccount struct {
	BeneficiaryID string
}

// nearInnerAction is the action enum as it appears inside a delegate
// action. Delegation cannot nest, so the Delegate variant is absent.
type nearInnerAction struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  struct{}
	DeployContract nearDeployContract
	FunctionCall   nearFunctionCall
	Transfer       nearTransfer
	Stake          nearStake
	AddKey         nearAddKey
	DeleteKey      nearDeleteKey
	DeleteAccount  nearDeleteAccount
}

const nearActionFunctionCall = 2

type nearDelegateAction struct {
	SenderID       string
	ReceiverID     string
	Actions        []nearInnerAction
	Nonce          uint64
	MaxBlockHeight uint64
	PublicKey      nearPublicKey
}

type nearSignedDelegateAction struct {
	DelegateAction nearDelegateAction
	Signature      nearSignature
}

// nep461Hash is the digest the payer signed: sha256 over the discriminant
// followed by the borsh form of the delegate action.
func nep461Hash(action *nearDelegateAction) ([32]byte, error) {
	prefix, err := borsh.Serialize(nep366Discriminant)
	if err != nil {
		return [32]byte{}, err
	}
	body, err := borsh.Serialize(*action)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(append(prefix, body...)), nil
}

// nearOuterAction is the action enum of a top-level transaction, where
// Delegate is a legal variant.
type nearOuterAction struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  struct{}
	DeployContract nearDeployContract
	FunctionCall   nearFunctionCall
	Transfer       nearTransfer
	Stake          nearStake
	AddKey         nearAddKey
	DeleteKey      nearDeleteKey
	DeleteAccount  nearDeleteAccount
	Delegate       nearSignedDelegateAction
}

const nearActionDelegate = 8

type nearTransaction struct {
	SignerID   string
	PublicKey  nearPublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []nearOuterAction
}

type nearSignedTransaction struct {
	Transaction nearTransaction
	Signature   nearSignature
}

// txHash returns the digest a relayer signs and the transaction's
// canonical hash, base58-encoded.
func (t *nearTransaction) txHash() ([32]byte, string, error) {
	raw, err := borsh.Serialize(*t)
	if err != nil {
		return [32]byte{}, "", err
	}
	h := sha256.Sum256(raw)
	return h, base58.Encode(h[:]), nil
}
