package domain

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is one epoch-scoped operator identity. The private key never
// leaves the struct; signing goes through the identity itself.
type Identity struct {
	Epoch   uint64
	Address common.Address
	key     *ecdsa.PrivateKey
}

func NewIdentity(epoch uint64, key *ecdsa.PrivateKey) *Identity {
	return &Identity{
		Epoch:   epoch,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}
}

// SignTx signs the transaction with the identity key.
func (i *Identity) SignTx(tx *types.Transaction, signer types.Signer) (*types.Transaction, error) {
	return types.SignTx(tx, signer, i.key)
}
