package db

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"log"
	"math/big"
	"path/filepath"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/cockroachdb/pebble/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("store resource not found")

const lastCycleKey = "last-cycle"
const totalEarnedKey = "total-earned"
const countersKey = "counters"

// Counts are the lifetime totals operators read from the status endpoint.
type Counts struct {
	Cycles       uint64
	FailedCycles uint64
	Fallbacks    uint64
	Sweeps       uint64
}

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(storeDir string) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "blob-engine-internal-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &PebbleStore{db: db}, nil
}

// Record books one finished cycle. The engine never reads these values back,
// they exist for operators.
func (ps *PebbleStore) Record(_ context.Context, outcome *domain.CycleOutcome) error {
	if err := ps.SetLastCycle(outcome.Cycle); err != nil {
		return errors.Wrap(err, "recording last cycle")
	}
	if outcome.Earned != nil && outcome.Earned.Sign() > 0 {
		if err := ps.addEarned(outcome.Earned); err != nil {
			return errors.Wrap(err, "recording earnings")
		}
	}

	counts, err := ps.GetCounts()
	if err != nil {
		return errors.Wrap(err, "loading counters")
	}
	counts.Cycles++
	if outcome.Failed {
		counts.FailedCycles++
	}
	counts.Fallbacks += uint64(outcome.Fallbacks)
	counts.Sweeps += uint64(outcome.Swept)
	if err := ps.saveCounts(counts); err != nil {
		return errors.Wrap(err, "saving counters")
	}
	return nil
}

func (ps *PebbleStore) SetLastCycle(cycle uint64) error {
	key := []byte(lastCycleKey)
	var value []byte
	value = binary.BigEndian.AppendUint64(value, cycle)

	err := ps.db.Set(key, value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting key [%s] to [%d]", lastCycleKey, cycle)
	}

	return nil
}

func (ps *PebbleStore) GetLastCycle() (cycle uint64, err error) {
	key := []byte(lastCycleKey)

	value, closer, err := ps.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		log.Printf("[WARN] key [%s] not found.", lastCycleKey)
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrapf(err, "getting value for key [%s]", lastCycleKey)
	}
	defer func(closer io.Closer) {
		err := closer.Close()
		if err != nil {
			log.Printf("[ERROR] closing db: %v", err)
		}
	}(closer)

	cycle = binary.BigEndian.Uint64(value)
	return cycle, nil
}

func (ps *PebbleStore) addEarned(amount *big.Int) error {
	total, err := ps.GetTotalEarned()
	if err != nil {
		return err
	}
	total.Add(total, amount)

	err = ps.db.Set([]byte(totalEarnedKey), total.Bytes(), pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting key [%s]", totalEarnedKey)
	}
	return nil
}

func (ps *PebbleStore) GetTotalEarned() (*big.Int, error) {
	value, closer, err := ps.db.Get([]byte(totalEarnedKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting value for key [%s]", totalEarnedKey)
	}
	defer closer.Close()

	return new(big.Int).SetBytes(value), nil
}

func (ps *PebbleStore) GetCounts() (Counts, error) {
	value, closer, err := ps.db.Get([]byte(countersKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return Counts{}, nil
	}
	if err != nil {
		return Counts{}, errors.Wrapf(err, "getting value for key [%s]", countersKey)
	}
	defer closer.Close()

	var counts Counts
	decoder := gob.NewDecoder(bytes.NewBuffer(value))
	if err := decoder.Decode(&counts); err != nil {
		return Counts{}, errors.Wrap(err, "deserializing counters")
	}
	return counts, nil
}

func (ps *PebbleStore) saveCounts(counts Counts) error {
	buffer := new(bytes.Buffer)
	encoder := gob.NewEncoder(buffer)
	if err := encoder.Encode(counts); err != nil {
		return errors.Wrap(err, "encoding counters")
	}

	err := ps.db.Set([]byte(countersKey), buffer.Bytes(), pebble.Sync) // sync to prevent data loss. performance not important.
	if err != nil {
		return errors.Wrap(err, "saving counters")
	}
	return nil
}

func sweptKey(day uint64) []byte {
	return []byte(fmt.Sprintf("swept-%d", day))
}

// RecordSweep marks a source as swept on the given rotation day.
func (ps *PebbleStore) RecordSweep(day uint64, source common.Address, amount *big.Int) error {
	swept, err := ps.GetSweptSources(day)
	if err != nil {
		return errors.Wrap(err, "loading swept sources")
	}
	swept[source.Hex()] = amount.String()

	buffer := new(bytes.Buffer)
	encoder := gob.NewEncoder(buffer)
	if err := encoder.Encode(swept); err != nil {
		return errors.Wrap(err, "encoding swept sources")
	}

	err = ps.db.Set(sweptKey(day), buffer.Bytes(), pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "saving swept sources for day [%d]", day)
	}
	return nil
}

// GetSweptSources returns source address -> swept amount in wei for one
// rotation day. Days without sweeps yield an empty map.
func (ps *PebbleStore) GetSweptSources(day uint64) (map[string]string, error) {
	value, closer, err := ps.db.Get(sweptKey(day))
	if errors.Is(err, pebble.ErrNotFound) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting swept sources for day [%d]", day)
	}
	defer closer.Close()

	var swept map[string]string
	decoder := gob.NewDecoder(bytes.NewBuffer(value))
	if err := decoder.Decode(&swept); err != nil {
		return nil, errors.Wrap(err, "deserializing swept sources")
	}
	return swept, nil
}

func (ps *PebbleStore) Close() error {
	return ps.db.Close()
}
