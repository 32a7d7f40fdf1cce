package materialize

import (
	"fmt"
	"strings"
)

// CycleError reports an asset that is part of, or depends on, a dependency
// cycle.
type CycleError struct {
	Path  string
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("asset %s: cyclic dependency %s", e.Path, strings.Join(e.Cycle, " -> "))
}

// WriteError reports a failure returned by the asset database.
type WriteError struct {
	Path   string
	Reason string
	Err    error
}

func (e *WriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("writing %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("writing %s: %s", e.Path, e.Reason)
}

func (e *WriteError) Unwrap() error { return e.Err }

// UnsupportedError reports a referenced asset whose class has no native
// kind.
type UnsupportedError struct {
	Path  string
	Class string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("asset %s: class %q is not supported", e.Path, e.Class)
}

// PayloadError reports a native payload that could not be decoded.
type PayloadError struct {
	Path string
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("asset %s: malformed payload: %v", e.Path, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// DependencyError reports an asset that was not materialized because an
// asset it references failed.
type DependencyError struct {
	Path       string
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("asset %s: dependency %s failed: %v", e.Path, e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
