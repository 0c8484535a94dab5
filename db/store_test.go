package db

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *PebbleStore {
	tempDir, err := os.MkdirTemp("", "engine_store_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := NewPebbleStore(tempDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SetAndGetLastCycle(t *testing.T) {
	store := testStore(t)

	err := store.SetLastCycle(42)
	assert.NoError(t, err)

	cycle, err := store.GetLastCycle()
	assert.NoError(t, err)
	assert.Equal(t, uint64(42), cycle)
}

func TestStore_GetLastCycleNotSet(t *testing.T) {
	store := testStore(t)

	_, err := store.GetLastCycle()
	assert.Error(t, err)
	assert.Equal(t, ErrNotFound, err)
}

func TestStore_RecordAccumulates(t *testing.T) {
	store := testStore(t)

	err := store.Record(context.Background(), &domain.CycleOutcome{
		Cycle:  1,
		Earned: big.NewInt(5),
		Swept:  1,
	})
	require.NoError(t, err)
	err = store.Record(context.Background(), &domain.CycleOutcome{
		Cycle:     2,
		Earned:    big.NewInt(7),
		Fallbacks: 2,
	})
	require.NoError(t, err)

	cycle, err := store.GetLastCycle()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cycle)

	total, err := store.GetTotalEarned()
	require.NoError(t, err)
	assert.Equal(t, "12", total.String())

	counts, err := store.GetCounts()
	require.NoError(t, err)
	assert.Equal(t, Counts{Cycles: 2, Fallbacks: 2, Sweeps: 1}, counts)
}

func TestStore_RecordFailedCycle(t *testing.T) {
	store := testStore(t)

	err := store.Record(context.Background(), &domain.CycleOutcome{
		Cycle:  3,
		Failed: true,
		Reason: "submission failed",
	})
	require.NoError(t, err)

	total, err := store.GetTotalEarned()
	require.NoError(t, err)
	assert.Equal(t, "0", total.String())

	counts, err := store.GetCounts()
	require.NoError(t, err)
	assert.Equal(t, Counts{Cycles: 1, FailedCycles: 1}, counts)
}

func TestStore_RecordSweepPerDay(t *testing.T) {
	store := testStore(t)
	first := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	second := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	require.NoError(t, store.RecordSweep(4, first, big.NewInt(900)))
	require.NoError(t, store.RecordSweep(4, second, big.NewInt(450)))
	require.NoError(t, store.RecordSweep(5, first, big.NewInt(100)))

	swept, err := store.GetSweptSources(4)
	require.NoError(t, err)
	assert.Len(t, swept, 2)
	assert.Equal(t, "900", swept[first.Hex()])
	assert.Equal(t, "450", swept[second.Hex()])

	nextDay, err := store.GetSweptSources(5)
	require.NoError(t, err)
	assert.Len(t, nextDay, 1)

	empty, err := store.GetSweptSources(6)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_SurvivesReopen(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "engine_store_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewPebbleStore(tempDir)
	require.NoError(t, err)
	require.NoError(t, store.Record(context.Background(), &domain.CycleOutcome{Cycle: 9, Earned: big.NewInt(3)}))
	require.NoError(t, store.Close())

	reopened, err := NewPebbleStore(tempDir)
	require.NoError(t, err)
	defer reopened.Close()

	cycle, err := reopened.GetLastCycle()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cycle)

	total, err := reopened.GetTotalEarned()
	require.NoError(t, err)
	assert.Equal(t, "3", total.String())
}
