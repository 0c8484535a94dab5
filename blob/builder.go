package blob

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const fieldElementSize = 32

// Builder produces the payload blocks and commitment artifacts for one
// submission cycle. Blocks are generated fresh and consumed once.
type Builder struct {
	scheme CommitmentScheme
	logger *zap.SugaredLogger
}

func NewBuilder(scheme CommitmentScheme, logger *zap.SugaredLogger) *Builder {
	return &Builder{scheme: scheme, logger: logger}
}

// GenerateBlobs returns count random payload blocks. The leading byte of
// every 32-byte element is zeroed so each element stays below the field
// modulus.
func (b *Builder) GenerateBlobs(count int) ([]*kzg4844.Blob, error) {
	blobs := make([]*kzg4844.Blob, 0, count)
	for i := 0; i < count; i++ {
		var blob kzg4844.Blob
		if _, err := rand.Read(blob[:]); err != nil {
			return nil, errors.Wrap(err, "reading random payload")
		}
		for offset := 0; offset < len(blob); offset += fieldElementSize {
			blob[offset] = 0
		}
		blobs = append(blobs, &blob)
	}
	return blobs, nil
}

// Build generates count payload blocks and commits to each one.
func (b *Builder) Build(count int) ([]domain.BlobBundle, error) {
	blobs, err := b.GenerateBlobs(count)
	if err != nil {
		return nil, errors.Wrap(err, "generating payload blocks")
	}

	bundles := make([]domain.BlobBundle, 0, len(blobs))
	for _, blob := range blobs {
		commitment, proof, err := b.scheme.Commit(blob)
		if err != nil {
			return nil, errors.Wrapf(err, "committing with scheme [%s]", b.scheme.Name())
		}
		bundles = append(bundles, domain.BlobBundle{
			Blob:          blob,
			Commitment:    commitment,
			Proof:         proof,
			VersionedHash: VersionedHash(commitment),
		})
	}
	b.logger.Debugw("built payload bundles", "count", len(bundles), "scheme", b.scheme.Name())
	return bundles, nil
}

// VersionedHash is the 32-byte commitment reference carried in the
// transaction envelope: version byte 0x01 followed by the tail of the
// commitment's SHA-256.
func VersionedHash(commitment kzg4844.Commitment) common.Hash {
	return common.Hash(kzg4844.CalcBlobHashV1(sha256.New(), &commitment))
}
