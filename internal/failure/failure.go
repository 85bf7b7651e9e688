// Package failure classifies errors raised while acquiring and indexing
// waveform data. Each error carries at most one Kind, attached with a
// cockroachdb/errors mark so it survives wrapping.
package failure

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Kind is the class of a failure. The retry policy and the run summary
// switch on it.
type Kind int

const (
	// Unknown is returned for nil errors and for errors without a mark.
	Unknown Kind = iota
	Transient
	Permanent
	Parse
	Index
	Config
	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:   "unknown",
	Transient: "transient",
	Permanent: "permanent",
	Parse:     "parse",
	Index:     "index",
	Config:    "config",
	Cancelled: "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return Unknown
}

var (
	errTransient = errors.New("transient fetch error")
	errPermanent = errors.New("permanent fetch error")
	errParse     = errors.New("parse error")
	errIndex     = errors.New("index error")
	errConfig    = errors.New("config error")
	errCancelled = errors.New("cancelled")
)

var marks = []struct {
	kind Kind
	ref  error
}{
	{Cancelled, errCancelled},
	{Config, errConfig},
	{Index, errIndex},
	{Parse, errParse},
	{Permanent, errPermanent},
	{Transient, errTransient},
}

func refFor(k Kind) error {
	for _, m := range marks {
		if m.kind == k {
			return m.ref
		}
	}
	return nil
}

// Mark tags err with kind. A nil err stays nil.
func Mark(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	ref := refFor(kind)
	if ref == nil {
		return err
	}
	return errors.Mark(err, ref)
}

// Newf builds a new error of the given kind.
func Newf(kind Kind, format string, args ...interface{}) error {
	return Mark(errors.NewWithDepthf(1, format, args...), kind)
}

// Wrapf wraps err with a message and tags it with kind.
func Wrapf(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Mark(errors.WrapWithDepthf(1, err, format, args...), kind)
}

// KindOf reports the kind of err. Context cancellation and deadline errors
// without an explicit mark are classified as Cancelled and Transient.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	for _, m := range marks {
		if errors.Is(err, m.ref) {
			return m.kind
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	}
	return Unknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
