package failure

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf_MarkSurvivesWrapping(t *testing.T) {
	base := Newf(Transient, "timeout after %ds", 30)
	wrapped := fmt.Errorf("chunk abc: %w", errors.Wrap(base, "fetch"))

	assert.Equal(t, Transient, KindOf(wrapped))
	assert.True(t, Is(wrapped, Transient))
	assert.False(t, Is(wrapped, Permanent))
}

func TestKindOf_Unmarked(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(nil))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
}

func TestKindOf_ContextErrors(t *testing.T) {
	assert.Equal(t, Cancelled, KindOf(errors.Wrap(context.Canceled, "fetch")))
	assert.Equal(t, Transient, KindOf(errors.Wrap(context.DeadlineExceeded, "fetch")))
}

func TestMark_ExplicitKindBeatsContext(t *testing.T) {
	err := Mark(context.DeadlineExceeded, Permanent)
	assert.Equal(t, Permanent, KindOf(err))
}

func TestWrapf_Nil(t *testing.T) {
	assert.NoError(t, Wrapf(nil, Index, "insert"))
	assert.NoError(t, Mark(nil, Index))
}

func TestKindString_RoundTrip(t *testing.T) {
	for _, k := range []Kind{Transient, Permanent, Parse, Index, Config, Cancelled} {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, Unknown, ParseKind("bogus"))
}
