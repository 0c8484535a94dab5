package identity

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

const cacheTTL = 2 * time.Hour

// Manager derives epoch-scoped operator identities from the configured seed.
// Identities are cached per epoch; the same (seed, epoch) pair yields the
// same address, in and across processes. Keys are never persisted.
type Manager struct {
	seed  string
	cache *ttlcache.Cache[uint64, *domain.Identity]
	lock  sync.Mutex
}

func NewManager(seed string) (*Manager, error) {
	if seed == "" {
		return nil, errors.New("identity seed must not be empty")
	}
	cache := ttlcache.New[uint64, *domain.Identity](
		ttlcache.WithTTL[uint64, *domain.Identity](cacheTTL),
		ttlcache.WithDisableTouchOnHit[uint64, *domain.Identity](),
	)
	return &Manager{seed: seed, cache: cache}, nil
}

// Current returns the operator identity for the epoch containing now.
func (m *Manager) Current(now time.Time) (*domain.Identity, error) {
	m.lock.Lock() // lock so that we do not get multiple threads inside the `if`
	defer m.lock.Unlock()

	epoch := domain.EpochAt(now)
	item := m.cache.Get(epoch)
	if item == nil {
		id, err := m.derive(epoch)
		if err != nil {
			return nil, errors.Wrapf(err, "deriving identity for epoch %d", epoch)
		}
		m.cache.Set(epoch, id, ttlcache.DefaultTTL)
		return id, nil
	} else {
		return item.Value(), nil
	}
}

func (m *Manager) derive(epoch uint64) (*domain.Identity, error) {
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s-OP-%d", m.seed, epoch)))
	key, err := crypto.ToECDSA(digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "converting digest to private key")
	}
	return domain.NewIdentity(epoch, key), nil
}

// StealthDestination derives the one-time destination address for the given
// epoch and final wallet. Recomputable from the seed, unpredictable without it.
func (m *Manager) StealthDestination(epoch uint64, finalWallet common.Address) (common.Address, error) {
	digest := sha3.Sum256([]byte(fmt.Sprintf("%s-STEALTH-%d-%s", m.seed, epoch, finalWallet.Hex())))
	key, err := crypto.ToECDSA(digest[:])
	if err != nil {
		return common.Address{}, errors.Wrap(err, "converting digest to private key")
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
