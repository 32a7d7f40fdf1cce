package importer

import (
	"context"
	"errors"

	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
	"github.com/cory-johannsen/udkimport/internal/importer/scene"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

// ErrorKind classifies a Failed report entry.
type ErrorKind string

// Error kinds.
const (
	KindParse              ErrorKind = "ParseError"
	KindUnsupportedVersion ErrorKind = "UnsupportedVersion"
	KindValidation         ErrorKind = "ValidationError"
	KindMissingReference   ErrorKind = "MissingReference"
	KindCyclicDependency   ErrorKind = "CyclicDependency"
	KindDependencyFailed   ErrorKind = "DependencyFailed"
	KindWriteFailure       ErrorKind = "WriteFailure"
	KindUnsupportedAsset   ErrorKind = "UnsupportedAsset"
	KindCancelled          ErrorKind = "Cancelled"
	KindUnknown            ErrorKind = "Error"
)

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	if errors.Is(err, udk.ErrUnsupportedVersion) {
		return KindUnsupportedVersion
	}
	var (
		pe  *udk.ParseError
		ple *materialize.PayloadError
		ve  *scene.ValidationError
		ce  *materialize.CycleError
		we  *materialize.WriteError
		ue  *materialize.UnsupportedError
		de  *materialize.DependencyError
	)
	switch {
	case errors.As(err, &de):
		return KindDependencyFailed
	case errors.As(err, &pe), errors.As(err, &ple):
		return KindParse
	case errors.As(err, &ve):
		if ve.Reference != "" {
			return KindMissingReference
		}
		return KindValidation
	case errors.As(err, &ce):
		return KindCyclicDependency
	case errors.As(err, &we):
		return KindWriteFailure
	case errors.As(err, &ue):
		return KindUnsupportedAsset
	}
	return KindUnknown
}
