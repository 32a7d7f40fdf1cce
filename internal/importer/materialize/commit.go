package materialize

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CollisionPolicy decides what happens when a target path already exists
// in the destination namespace.
type CollisionPolicy string

// Collision policies. Skip is the default.
const (
	PolicySkip      CollisionPolicy = "skip"
	PolicyOverwrite CollisionPolicy = "overwrite"
	PolicyRename    CollisionPolicy = "rename"
)

// MaxRenameAttempts bounds the numeric suffixes tried by PolicyRename.
const MaxRenameAttempts = 100

// ParseCollisionPolicy validates a policy name. Empty selects PolicySkip.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyOverwrite:
		return PolicyOverwrite, nil
	case PolicyRename:
		return PolicyRename, nil
	}
	return "", fmt.Errorf("unknown collision policy %q (want skip, overwrite or rename)", s)
}

// WriteStatus is the database's answer to one write.
type WriteStatus int

// Write statuses.
const (
	WriteCreated WriteStatus = iota
	WriteSkipped
	WriteFailed
)

func (s WriteStatus) String() string {
	switch s {
	case WriteCreated:
		return "Created"
	case WriteSkipped:
		return "Skipped"
	default:
		return "Failed"
	}
}

// AssetWrite is one createOrUpdateAsset call.
type AssetWrite struct {
	TargetPath string
	Kind       Kind
	Payload    []byte
	// Dependencies are target paths of referenced assets.
	Dependencies []string
	Fingerprint  Fingerprint
	// Overwrite replaces existing content; otherwise an existing path is
	// answered with WriteSkipped.
	Overwrite bool
}

// AssetDatabase is the write boundary to the destination asset database.
type AssetDatabase interface {
	// Begin opens a file-scoped transaction.
	Begin(ctx context.Context) (Tx, error)
}

// Tx groups the writes of one file. Either every write becomes visible on
// Commit or none does after Rollback.
type Tx interface {
	Exists(ctx context.Context, targetPath string) (bool, error)
	CreateOrUpdate(ctx context.Context, w AssetWrite) (status WriteStatus, reason string, err error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Committer hands plans to the asset database.
type Committer struct {
	db     AssetDatabase
	policy CollisionPolicy
	table  *FingerprintTable
	logger *zap.Logger
	// OnAsset, when set, is called after each descriptor is handled.
	OnAsset func(Result)
}

// NewCommitter returns a Committer. table may be nil when plans were not
// de-duplicated against one.
func NewCommitter(db AssetDatabase, policy CollisionPolicy, table *FingerprintTable, logger *zap.Logger) *Committer {
	if policy == "" {
		policy = PolicySkip
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{db: db, policy: policy, table: table, logger: logger}
}

// Commit writes plan's descriptors in order inside one transaction.
//
// Transactions of Committers sharing a table run one at a time. A
// descriptor whose fingerprint another file already committed is reported
// Skipped-duplicate instead of written; that includes Deferred descriptors
// whose owner committed first. Cancellation is checked before each asset.
// A write failure, a commit failure or a cancellation rolls back the whole
// file and every descriptor it would have written is reported Failed.
//
// Postcondition: returns exactly one Result per descriptor of plan.
func (c *Committer) Commit(ctx context.Context, plan *Plan) []Result {
	if len(plan.Descriptors) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return c.abandon(plan, -1, cancelled(err))
	}
	if c.table != nil {
		if err := c.table.acquire(ctx); err != nil {
			return c.abandon(plan, -1, cancelled(err))
		}
		defer c.table.release()
	}
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return c.abandon(plan, -1, &WriteError{Path: plan.SourceID, Reason: "begin transaction", Err: err})
	}

	final := map[Fingerprint]string{}
	results := make([]Result, 0, len(plan.Descriptors))
	for i, d := range plan.Descriptors {
		if err := ctx.Err(); err != nil {
			return c.rollback(ctx, tx, plan, -1, cancelled(err))
		}
		if res, ok := c.duplicate(plan.SourceID, d, final); ok {
			final[d.Fingerprint] = res.TargetPath
			results = append(results, res)
			continue
		}
		res, werr := c.write(ctx, tx, d, final)
		if werr != nil {
			return c.rollback(ctx, tx, plan, i, werr)
		}
		results = append(results, res)
	}
	if err := tx.Commit(ctx); err != nil {
		return c.abandon(plan, -1, &WriteError{Path: plan.SourceID, Reason: "commit", Err: err})
	}
	for _, r := range results {
		if c.table != nil && (r.Outcome == Created || r.Outcome == SkippedCollision) {
			c.table.Settle(r.Fingerprint, plan.SourceID, r.TargetPath)
		}
		c.notify(r)
	}
	return results
}

// duplicate reports d as Skipped-duplicate when its fingerprint was already
// handled earlier in this transaction or committed by another file.
func (c *Committer) duplicate(sourceID string, d *Descriptor, final map[Fingerprint]string) (Result, bool) {
	res := Result{Item: d.Source, Kind: d.Kind, Fingerprint: d.Fingerprint, Outcome: SkippedDuplicate}
	if p, ok := final[d.Fingerprint]; ok {
		res.TargetPath = p
		res.Reason = fmt.Sprintf("identical to %s from %s", p, sourceID)
		return res, true
	}
	if c.table == nil {
		return res, false
	}
	owner, ok := c.table.Owner(d.Fingerprint)
	if !ok || !owner.Committed || owner.SourceID == sourceID {
		return res, false
	}
	res.TargetPath = owner.TargetPath
	res.Reason = fmt.Sprintf("identical to %s from %s", owner.TargetPath, owner.SourceID)
	return res, true
}

func (c *Committer) write(ctx context.Context, tx Tx, d *Descriptor, final map[Fingerprint]string) (Result, error) {
	res := Result{Item: d.Source, TargetPath: d.TargetPath, Kind: d.Kind, Fingerprint: d.Fingerprint}
	target := d.TargetPath
	exists, err := tx.Exists(ctx, target)
	if err != nil {
		return res, &WriteError{Path: target, Reason: "existence check", Err: err}
	}
	overwrite := false
	if exists {
		switch c.policy {
		case PolicySkip:
			res.Outcome = SkippedCollision
			res.Reason = fmt.Sprintf("%s already exists", target)
			final[d.Fingerprint] = target
			return res, nil
		case PolicyOverwrite:
			overwrite = true
		case PolicyRename:
			renamed, err := c.freeName(ctx, tx, target)
			if err != nil {
				return res, err
			}
			target = renamed
		}
	}

	w := AssetWrite{
		TargetPath:  target,
		Kind:        d.Kind,
		Payload:     d.Payload,
		Fingerprint: d.Fingerprint,
		Overwrite:   overwrite,
	}
	for _, dep := range d.Dependencies {
		p, ok := c.dependencyPath(dep, final)
		if !ok {
			return res, &WriteError{Path: target, Reason: fmt.Sprintf("dependency %s was not materialized", dep.Short())}
		}
		w.Dependencies = append(w.Dependencies, p)
	}
	status, reason, err := tx.CreateOrUpdate(ctx, w)
	if err != nil {
		return res, &WriteError{Path: target, Reason: "create or update", Err: err}
	}
	switch status {
	case WriteFailed:
		return res, &WriteError{Path: target, Reason: reason}
	case WriteSkipped:
		res.Outcome = SkippedCollision
		res.Reason = reason
	default:
		res.Outcome = Created
		if target != d.TargetPath {
			res.Reason = fmt.Sprintf("renamed from %s", d.TargetPath)
		}
	}
	res.TargetPath = target
	final[d.Fingerprint] = target
	return res, nil
}

func (c *Committer) freeName(ctx context.Context, tx Tx, target string) (string, error) {
	for i := 1; i <= MaxRenameAttempts; i++ {
		candidate := fmt.Sprintf("%s_%d", target, i)
		exists, err := tx.Exists(ctx, candidate)
		if err != nil {
			return "", &WriteError{Path: candidate, Reason: "existence check", Err: err}
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", &WriteError{Path: target, Reason: fmt.Sprintf("no free name after %d suffixes", MaxRenameAttempts)}
}

// dependencyPath is the target path of an asset written earlier in this
// transaction or committed by another file. Nothing else may cross the
// write boundary.
func (c *Committer) dependencyPath(fp Fingerprint, final map[Fingerprint]string) (string, bool) {
	if p, ok := final[fp]; ok {
		return p, true
	}
	if c.table != nil {
		if owner, ok := c.table.Owner(fp); ok && owner.Committed {
			return owner.TargetPath, true
		}
	}
	return "", false
}

func (c *Committer) rollback(ctx context.Context, tx Tx, plan *Plan, failed int, cause error) []Result {
	// Rollback must run even when ctx is already cancelled.
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("rollback failed",
			zap.String("source", plan.SourceID),
			zap.Error(err),
		)
	}
	return c.abandon(plan, failed, cause)
}

// abandon reports every descriptor of plan as Failed. The descriptor at
// index failed carries cause; the rest are wrapped as rolled back. A
// negative index gives every descriptor cause. Descriptors another file
// committed are reported Skipped-duplicate, since nothing of theirs was
// lost.
func (c *Committer) abandon(plan *Plan, failed int, cause error) []Result {
	out := make([]Result, 0, len(plan.Descriptors))
	for i, d := range plan.Descriptors {
		if c.table != nil {
			if owner, ok := c.table.Owner(d.Fingerprint); ok && owner.Committed && owner.SourceID != plan.SourceID {
				r := Result{Item: d.Source, TargetPath: owner.TargetPath, Kind: d.Kind, Fingerprint: d.Fingerprint,
					Outcome: SkippedDuplicate,
					Reason:  fmt.Sprintf("identical to %s from %s", owner.TargetPath, owner.SourceID)}
				out = append(out, r)
				c.notify(r)
				continue
			}
		}
		err := cause
		if failed >= 0 && i != failed {
			err = &WriteError{Path: d.TargetPath, Reason: "rolled back", Err: cause}
		}
		r := Result{Item: d.Source, TargetPath: d.TargetPath, Kind: d.Kind, Fingerprint: d.Fingerprint,
			Outcome: Failed, Err: err}
		out = append(out, r)
		c.notify(r)
	}
	c.logger.Warn("file rolled back",
		zap.String("source", plan.SourceID),
		zap.Int("assets", len(plan.Descriptors)),
		zap.Error(cause),
	)
	return out
}

func (c *Committer) notify(r Result) {
	if c.OnAsset != nil {
		c.OnAsset(r)
	}
}

func cancelled(err error) error {
	return fmt.Errorf("materialization cancelled: %w", err)
}
