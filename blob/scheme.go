package blob

import (
	"bytes"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/pkg/errors"
)

// CommitmentScheme binds a payload block to a fixed-size commitment and an
// opening proof. Commit must be deterministic in the blob bytes; Verify must
// not depend on any state from generation.
type CommitmentScheme interface {
	Name() string
	Commit(blob *kzg4844.Blob) (kzg4844.Commitment, kzg4844.Proof, error)
	Verify(blob *kzg4844.Blob, commitment kzg4844.Commitment, proof kzg4844.Proof) error
}

// SchemeByName resolves the configured scheme. Known names: "kzg", "keccak".
func SchemeByName(name string) (CommitmentScheme, error) {
	switch name {
	case "kzg":
		return KZGScheme{}, nil
	case "keccak":
		return KeccakScheme{}, nil
	default:
		return nil, errors.Errorf("unknown commitment scheme [%s]", name)
	}
}

// KZGScheme commits via the polynomial commitment primitive against the
// embedded trusted setup. Production default.
type KZGScheme struct{}

func (KZGScheme) Name() string {
	return "kzg"
}

func (KZGScheme) Commit(blob *kzg4844.Blob) (kzg4844.Commitment, kzg4844.Proof, error) {
	commitment, err := kzg4844.BlobToCommitment(blob)
	if err != nil {
		return kzg4844.Commitment{}, kzg4844.Proof{}, errors.Wrap(err, "computing commitment")
	}
	proof, err := kzg4844.ComputeBlobProof(blob, commitment)
	if err != nil {
		return kzg4844.Commitment{}, kzg4844.Proof{}, errors.Wrap(err, "computing blob proof")
	}
	return commitment, proof, nil
}

func (KZGScheme) Verify(blob *kzg4844.Blob, commitment kzg4844.Commitment, proof kzg4844.Proof) error {
	return kzg4844.VerifyBlobProof(blob, commitment, proof)
}

// keccakTag marks artifacts produced by the degraded scheme so they cannot
// be confused with real curve points.
const keccakTag = 0x6b

// KeccakScheme is the degraded scheme for deployments without a KZG setup.
// The commitment carries a tagged Keccak-256 of the blob in the 48-byte
// shape, the proof a Keccak-256 over commitment and blob. Deterministic and
// binding, but not openable point-wise.
type KeccakScheme struct{}

func (KeccakScheme) Name() string {
	return "keccak"
}

func (KeccakScheme) Commit(blob *kzg4844.Blob) (kzg4844.Commitment, kzg4844.Proof, error) {
	var commitment kzg4844.Commitment
	commitment[0] = keccakTag
	copy(commitment[16:], crypto.Keccak256(blob[:]))

	var proof kzg4844.Proof
	proof[0] = keccakTag
	copy(proof[16:], crypto.Keccak256(commitment[:], blob[:]))

	return commitment, proof, nil
}

func (s KeccakScheme) Verify(blob *kzg4844.Blob, commitment kzg4844.Commitment, proof kzg4844.Proof) error {
	expectedCommitment, expectedProof, err := s.Commit(blob)
	if err != nil {
		return err
	}
	if !bytes.Equal(commitment[:], expectedCommitment[:]) {
		return errors.New("commitment does not match blob")
	}
	if !bytes.Equal(proof[:], expectedProof[:]) {
		return errors.New("proof does not match blob and commitment")
	}
	return nil
}
