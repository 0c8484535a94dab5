package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTransfer is one scheduled sweep out of a source address. At most
// one exists per source at a time.
type PendingTransfer struct {
	Source      common.Address
	Destination common.Address
	Amount      *big.Int
	ExecuteAt   time.Time
}
