package setup

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/constraint"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"SignalAttest/internal/circuits"
	xerrors "SignalAttest/internal/errors"
)

// Phase tracks ceremony progress. Transitions are strictly forward.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseContribution
	PhaseFinalized
)

// transcriptPowers is how many tau powers each contribution carries in the
// public transcript. They exist for auditability (pairing checks), not as the
// SRS itself; gnark derives the full key material at finalization.
const transcriptPowers = 8

// Contribution is one link in the transcript hash chain.
type Contribution struct {
	Contributor    string
	PreviousHash   []byte
	TauG1          []bn254.G1Affine
	TauG2          []bn254.G2Affine
	AlphaG1        bn254.G1Affine
	BetaG1         bn254.G1Affine
	BetaG2         bn254.G2Affine
	ContributedAt  time.Time
	CommitmentHash []byte
}

// Transcript is the public, append-only record of a ceremony.
type Transcript struct {
	CeremonyID     string
	CircuitName    string
	CircuitHash    [32]byte
	StartedAt      time.Time
	FinalizedAt    time.Time
	Contributions  [][]byte
	TranscriptHash []byte
}

// Ceremony coordinates trusted setup for a single circuit version. Runs for
// the same circuit must not proceed in parallel; the internal mutex serializes
// all phases of one ceremony instance.
type Ceremony struct {
	mu            sync.Mutex
	circuitName   string
	circuitHash   [32]byte
	ccs           constraint.ConstraintSystem
	phase         Phase
	contributions []Contribution
	transcript    *Transcript
}

// NewCeremony prepares a ceremony for the compiled circuit and records the
// genesis contribution drawn from local randomness.
func NewCeremony(circuitName string, ccs constraint.ConstraintSystem) (*Ceremony, error) {
	hash, err := circuits.ContentHash(ccs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "hash circuit")
	}
	c := &Ceremony{
		circuitName: circuitName,
		circuitHash: hash,
		ccs:         ccs,
		phase:       PhaseInit,
		transcript: &Transcript{
			CeremonyID:  uuid.NewString(),
			CircuitName: circuitName,
			CircuitHash: hash,
			StartedAt:   time.Now().UTC(),
		},
	}
	genesis, err := c.genesisContribution()
	if err != nil {
		return nil, err
	}
	c.contributions = append(c.contributions, *genesis)
	c.transcript.Contributions = append(c.transcript.Contributions, genesis.CommitmentHash)
	c.phase = PhaseContribution
	return c, nil
}

// CircuitHash returns the content hash the ceremony is bound to.
func (c *Ceremony) CircuitHash() [32]byte { return c.circuitHash }

// Phase returns the current ceremony phase.
func (c *Ceremony) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Ceremony) genesisContribution() (*Contribution, error) {
	tau, err := randomScalar()
	if err != nil {
		return nil, err
	}
	alpha, err := randomScalar()
	if err != nil {
		return nil, err
	}
	beta, err := randomScalar()
	if err != nil {
		return nil, err
	}

	_, _, g1Gen, g2Gen := bn254.Generators()
	tauG1 := make([]bn254.G1Affine, transcriptPowers)
	tauG2 := make([]bn254.G2Affine, transcriptPowers)
	tauG1[0] = g1Gen
	tauG2[0] = g2Gen

	var power fr.Element
	power.SetOne()
	for i := 1; i < transcriptPowers; i++ {
		power.Mul(&power, tau)
		exp := power.BigInt(new(big.Int))
		tauG1[i].ScalarMultiplicationBase(exp)
		tauG2[i].ScalarMultiplicationBase(exp)
	}

	var alphaG1, betaG1 bn254.G1Affine
	var betaG2 bn254.G2Affine
	alphaG1.ScalarMultiplicationBase(alpha.BigInt(new(big.Int)))
	betaG1.ScalarMultiplicationBase(beta.BigInt(new(big.Int)))
	betaG2.ScalarMultiplicationBase(beta.BigInt(new(big.Int)))

	// Toxic waste must not outlive key derivation.
	tau.SetZero()
	alpha.SetZero()
	beta.SetZero()
	power.SetZero()

	contribution := &Contribution{
		Contributor:   "genesis",
		PreviousHash:  make([]byte, 32),
		TauG1:         tauG1,
		TauG2:         tauG2,
		AlphaG1:       alphaG1,
		BetaG1:        betaG1,
		BetaG2:        betaG2,
		ContributedAt: time.Now().UTC(),
	}
	contribution.CommitmentHash = contributionHash(contribution)
	return contribution, nil
}

// Contribute folds participant randomness into the ceremony. Secrets are
// derived from the randomness with domain-separated BLAKE2b so a contributor
// cannot bias tau, alpha and beta independently of each other.
func (c *Ceremony) Contribute(contributor string, randomness []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseContribution {
		return xerrors.New(xerrors.CodeSetupFailure, "ceremony not accepting contributions")
	}
	if len(randomness) < 32 {
		return xerrors.New(xerrors.CodeInvalidInput,
			fmt.Sprintf("need at least 32 bytes of randomness, got %d", len(randomness)))
	}

	tau, err := deriveScalar(randomness, "signalattest-ceremony-tau")
	if err != nil {
		return err
	}
	alpha, err := deriveScalar(randomness, "signalattest-ceremony-alpha")
	if err != nil {
		return err
	}
	beta, err := deriveScalar(randomness, "signalattest-ceremony-beta")
	if err != nil {
		return err
	}

	previous := &c.contributions[len(c.contributions)-1]

	tauG1 := make([]bn254.G1Affine, len(previous.TauG1))
	tauG2 := make([]bn254.G2Affine, len(previous.TauG2))
	var power fr.Element
	power.SetOne()
	for i := range previous.TauG1 {
		if i > 0 {
			power.Mul(&power, tau)
		}
		exp := power.BigInt(new(big.Int))
		tauG1[i].ScalarMultiplication(&previous.TauG1[i], exp)
		tauG2[i].ScalarMultiplication(&previous.TauG2[i], exp)
	}

	var alphaG1, betaG1 bn254.G1Affine
	var betaG2 bn254.G2Affine
	alphaG1.ScalarMultiplication(&previous.AlphaG1, alpha.BigInt(new(big.Int)))
	betaG1.ScalarMultiplication(&previous.BetaG1, beta.BigInt(new(big.Int)))
	betaG2.ScalarMultiplication(&previous.BetaG2, beta.BigInt(new(big.Int)))

	tau.SetZero()
	alpha.SetZero()
	beta.SetZero()
	power.SetZero()

	contribution := Contribution{
		Contributor:   contributor,
		PreviousHash:  previous.CommitmentHash,
		TauG1:         tauG1,
		TauG2:         tauG2,
		AlphaG1:       alphaG1,
		BetaG1:        betaG1,
		BetaG2:        betaG2,
		ContributedAt: time.Now().UTC(),
	}
	contribution.CommitmentHash = contributionHash(&contribution)

	c.contributions = append(c.contributions, contribution)
	c.transcript.Contributions = append(c.transcript.Contributions, contribution.CommitmentHash)
	return nil
}

// VerifyTranscript checks the contribution hash chain and the pairing
// consistency of the latest contribution. A broken chain means the transcript
// was corrupted or truncated; setup must halt.
func (c *Ceremony) VerifyTranscript() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifyTranscriptLocked()
}

func (c *Ceremony) verifyTranscriptLocked() error {
	if len(c.contributions) == 0 || c.transcript == nil {
		return xerrors.New(xerrors.CodeSetupFailure, "transcript missing")
	}
	if len(c.transcript.Contributions) != len(c.contributions) {
		return xerrors.New(xerrors.CodeSetupFailure, "transcript length mismatch")
	}
	for i := range c.contributions {
		contribution := &c.contributions[i]
		if recomputed := contributionHash(contribution); subtle.ConstantTimeCompare(recomputed, contribution.CommitmentHash) != 1 {
			return xerrors.New(xerrors.CodeSetupFailure,
				fmt.Sprintf("contribution %d commitment hash mismatch", i))
		}
		if subtle.ConstantTimeCompare(c.transcript.Contributions[i], c.contributions[i].CommitmentHash) != 1 {
			return xerrors.New(xerrors.CodeSetupFailure,
				fmt.Sprintf("transcript entry %d does not match contribution", i))
		}
		if i > 0 {
			if subtle.ConstantTimeCompare(contribution.PreviousHash, c.contributions[i-1].CommitmentHash) != 1 {
				return xerrors.New(xerrors.CodeSetupFailure,
					fmt.Sprintf("contribution %d breaks the hash chain", i))
			}
		}
	}
	return c.verifyPairings(&c.contributions[len(c.contributions)-1])
}

// verifyPairings checks e([tau]1, G2) == e(G1, [tau]2) and the first few power
// progressions, so a contributor cannot publish inconsistent G1/G2 powers.
func (c *Ceremony) verifyPairings(contribution *Contribution) error {
	if len(contribution.TauG1) < 2 || len(contribution.TauG2) < 2 {
		return xerrors.New(xerrors.CodeSetupFailure, "contribution missing tau powers")
	}
	_, _, _, g2Gen := bn254.Generators()

	left, err := bn254.Pair([]bn254.G1Affine{contribution.TauG1[1]}, []bn254.G2Affine{g2Gen})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSetupFailure, err, "pairing")
	}
	right, err := bn254.Pair([]bn254.G1Affine{contribution.TauG1[0]}, []bn254.G2Affine{contribution.TauG2[1]})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSetupFailure, err, "pairing")
	}
	if subtle.ConstantTimeCompare(left.Marshal(), right.Marshal()) != 1 {
		return xerrors.New(xerrors.CodeSetupFailure, "tau differs between G1 and G2")
	}

	for i := 0; i+1 < len(contribution.TauG1); i++ {
		left, err = bn254.Pair([]bn254.G1Affine{contribution.TauG1[i]}, []bn254.G2Affine{contribution.TauG2[1]})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeSetupFailure, err, "pairing")
		}
		right, err = bn254.Pair([]bn254.G1Affine{contribution.TauG1[i+1]}, []bn254.G2Affine{g2Gen})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeSetupFailure, err, "pairing")
		}
		if subtle.ConstantTimeCompare(left.Marshal(), right.Marshal()) != 1 {
			return xerrors.New(xerrors.CodeSetupFailure,
				fmt.Sprintf("tau power progression broken at index %d", i))
		}
	}
	return nil
}

// Finalize verifies the transcript, derives the key pair and persists all
// artifacts. At least one non-genesis contribution is required so no single
// party ever knew the full secret.
func (c *Ceremony) Finalize(store *ArtifactStore) (*KeySet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseContribution {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "ceremony is not in the contribution phase")
	}
	if len(c.contributions) < 2 {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "at least one external contribution is required")
	}
	if err := c.verifyTranscriptLocked(); err != nil {
		return nil, err
	}

	keySet, err := deriveKeySet(c.circuitName, c.circuitHash, c.ccs)
	if err != nil {
		return nil, err
	}

	c.transcript.FinalizedAt = time.Now().UTC()
	c.transcript.TranscriptHash = c.transcriptHash()

	if store != nil {
		if err := keySet.persist(store); err != nil {
			return nil, err
		}
		if err := persistTranscript(store, c.circuitName, c.transcript); err != nil {
			return nil, err
		}
	}
	c.phase = PhaseFinalized
	return keySet, nil
}

// TranscriptSnapshot returns a copy of the public transcript.
func (c *Ceremony) TranscriptSnapshot() Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *c.transcript
	snapshot.Contributions = make([][]byte, len(c.transcript.Contributions))
	for i, h := range c.transcript.Contributions {
		snapshot.Contributions[i] = append([]byte(nil), h...)
	}
	snapshot.TranscriptHash = append([]byte(nil), c.transcript.TranscriptHash...)
	return snapshot
}

func (c *Ceremony) transcriptHash() []byte {
	h := sha256.New()
	h.Write([]byte(c.transcript.CeremonyID))
	h.Write([]byte(c.transcript.CircuitName))
	h.Write(c.transcript.CircuitHash[:])
	for _, entry := range c.transcript.Contributions {
		h.Write(entry)
	}
	return h.Sum(nil)
}

func contributionHash(contribution *Contribution) []byte {
	h := sha256.New()
	h.Write([]byte(contribution.Contributor))
	h.Write(contribution.PreviousHash)
	for i := range contribution.TauG1 {
		h.Write(contribution.TauG1[i].Marshal())
	}
	for i := range contribution.TauG2 {
		h.Write(contribution.TauG2[i].Marshal())
	}
	h.Write(contribution.AlphaG1.Marshal())
	h.Write(contribution.BetaG1.Marshal())
	h.Write(contribution.BetaG2.Marshal())
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(contribution.ContributedAt.UnixNano()))
	h.Write(ts[:])
	return h.Sum(nil)
}

func randomScalar() (*fr.Element, error) {
	var buf [32]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "sample randomness")
	}
	var scalar fr.Element
	scalar.SetBytes(buf[:])
	if scalar.IsZero() {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "sampled a zero scalar")
	}
	return &scalar, nil
}

func deriveScalar(randomness []byte, label string) (*fr.Element, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "init blake2b")
	}
	h.Write(randomness)
	h.Write([]byte(label))
	digest := h.Sum(nil)

	var scalar fr.Element
	scalar.SetBytes(digest[:32])
	if scalar.IsZero() {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "derived a zero scalar, randomness insufficient")
	}
	return &scalar, nil
}
