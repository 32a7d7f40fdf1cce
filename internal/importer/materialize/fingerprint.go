package materialize

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/semaphore"

	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// Fingerprint is a 256-bit content hash.
type Fingerprint [blake2b.Size256]byte

// String returns the fingerprint as lowercase hex.
func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Short returns the first 12 hex digits for log lines.
func (f Fingerprint) Short() string { return f.String()[:12] }

// IsZero reports whether f is unset.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// MarshalText renders the fingerprint as hex.
func (f Fingerprint) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// hashParts hashes length-prefixed parts so that no two part lists collide
// by concatenation.
func hashParts(parts ...[]byte) Fingerprint {
	h, _ := blake2b.New256(nil)
	var n [8]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// RecordFingerprint hashes an asset record's kind, its non-header
// properties (the import parameters) and its binary payload. Names and
// paths do not contribute, so identical content under different names
// de-duplicates.
func RecordFingerprint(kind Kind, rec *udk.RawRecord) Fingerprint {
	var params []byte
	for _, p := range rec.Props {
		if p.Header {
			continue
		}
		params = append(params, p.Key...)
		params = append(params, '=')
		params = append(params, p.Value.Literal()...)
		params = append(params, '\n')
	}
	return hashParts([]byte(kind), params, rec.Payload)
}

// ExternalFingerprint identifies a reference to an existing target asset.
func ExternalFingerprint(kind Kind, target string) Fingerprint {
	return hashParts([]byte("external"), []byte(kind), []byte(target))
}

// Claim is the owner of a fingerprint in the batch. The first planner to
// see a fingerprint picks its TargetPath; once a file commits the asset,
// SourceID and TargetPath name that file and the final path.
type Claim struct {
	SourceID   string
	TargetPath string
	Committed  bool
}

// FingerprintTable is the batch-wide de-duplication table. It is shared by
// every file of a session; each lookup-and-insert happens under one lock.
// It also serializes file transactions so that whether an asset was
// committed is known before a file decides to write it.
type FingerprintTable struct {
	mu     sync.Mutex
	owners map[Fingerprint]Claim
	commit *semaphore.Weighted
}

// NewFingerprintTable returns an empty table.
func NewFingerprintTable() *FingerprintTable {
	return &FingerprintTable{owners: map[Fingerprint]Claim{}, commit: semaphore.NewWeighted(1)}
}

// Claim registers c as the owner of fp unless fp already has an owner.
//
// Postcondition: exactly one concurrent caller per fingerprint gets
// claimed == true; the others get the current claim.
func (t *FingerprintTable) Claim(fp Fingerprint, c Claim) (owner Claim, claimed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.owners[fp]; ok {
		return prev, false
	}
	c.Committed = false
	t.owners[fp] = c
	return c, true
}

// Owner returns the claim on fp.
func (t *FingerprintTable) Owner(fp Fingerprint) (Claim, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.owners[fp]
	return c, ok
}

// Settle records that sourceID committed fp at target. A settled claim
// never changes again.
func (t *FingerprintTable) Settle(fp Fingerprint, sourceID, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.owners[fp]; ok && c.Committed {
		return
	}
	t.owners[fp] = Claim{SourceID: sourceID, TargetPath: target, Committed: true}
}

// acquire waits for the table's single commit slot.
func (t *FingerprintTable) acquire(ctx context.Context) error {
	return t.commit.Acquire(ctx, 1)
}

func (t *FingerprintTable) release() { t.commit.Release(1) }

// Len is the number of claimed fingerprints.
func (t *FingerprintTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owners)
}

// Committed is the number of fingerprints some file has committed.
func (t *FingerprintTable) Committed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.owners {
		if c.Committed {
			n++
		}
	}
	return n
}
