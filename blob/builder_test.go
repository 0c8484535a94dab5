package blob

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuilderGenerateBlobs(t *testing.T) {
	builder := NewBuilder(KeccakScheme{}, zap.NewNop().Sugar())

	blobs, err := builder.GenerateBlobs(3)
	require.NoError(t, err)
	require.Len(t, blobs, 3)

	for _, blob := range blobs {
		for offset := 0; offset < len(blob); offset += fieldElementSize {
			assert.Equal(t, byte(0), blob[offset])
		}
	}
	assert.NotEqual(t, blobs[0], blobs[1])
	assert.NotEqual(t, blobs[1], blobs[2])
}

func TestBuilderBuild(t *testing.T) {
	scheme := KeccakScheme{}
	builder := NewBuilder(scheme, zap.NewNop().Sugar())

	bundles, err := builder.Build(3)
	require.NoError(t, err)
	require.Len(t, bundles, 3)

	for _, bundle := range bundles {
		assert.NoError(t, scheme.Verify(bundle.Blob, bundle.Commitment, bundle.Proof))
		assert.Equal(t, VersionedHash(bundle.Commitment), bundle.VersionedHash)
	}
	assert.NotEqual(t, bundles[0].Commitment, bundles[1].Commitment)
}

func TestVersionedHashShape(t *testing.T) {
	bundles, err := NewBuilder(KeccakScheme{}, zap.NewNop().Sugar()).Build(1)
	require.NoError(t, err)

	vh := bundles[0].VersionedHash
	assert.Equal(t, byte(0x01), vh[0])

	digest := sha256.Sum256(bundles[0].Commitment[:])
	assert.Equal(t, digest[1:], vh[1:])
}
