package acquire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/seedvault/internal/sds"
	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

func sp(a, b string) span.Span {
	return span.New(ts(a), ts(b))
}

func TestMissing(t *testing.T) {
	req := sp("2025-01-01T10:00:00Z", "2025-01-01T11:00:00Z")
	tol := 60 * time.Second
	minWin := 3 * time.Second

	tests := []struct {
		name    string
		covered []span.Span
		force   bool
		want    []span.Span
	}{
		{"nothing archived", nil, false, []span.Span{req}},
		{"fully covered", []span.Span{sp("2025-01-01T09:00:00Z", "2025-01-01T12:00:00Z")}, false, nil},
		{
			"head covered",
			[]span.Span{sp("2025-01-01T09:00:00Z", "2025-01-01T10:30:00Z")},
			false,
			[]span.Span{sp("2025-01-01T10:30:00Z", "2025-01-01T11:00:00Z")},
		},
		{
			"two holes far apart",
			[]span.Span{sp("2025-01-01T10:10:00Z", "2025-01-01T10:50:00Z")},
			false,
			[]span.Span{sp("2025-01-01T10:00:00Z", "2025-01-01T10:10:00Z"), sp("2025-01-01T10:50:00Z", "2025-01-01T11:00:00Z")},
		},
		{
			"holes within tolerance are joined",
			[]span.Span{sp("2025-01-01T10:20:00Z", "2025-01-01T10:20:30Z")},
			false,
			[]span.Span{req},
		},
		{
			"sliver below minimum window dropped",
			[]span.Span{sp("2025-01-01T10:00:02Z", "2025-01-01T11:00:00Z")},
			false,
			nil,
		},
		{
			"unsorted covering segments",
			[]span.Span{sp("2025-01-01T10:40:00Z", "2025-01-01T11:00:00Z"), sp("2025-01-01T10:00:00Z", "2025-01-01T10:20:00Z")},
			false,
			[]span.Span{sp("2025-01-01T10:20:00Z", "2025-01-01T10:40:00Z")},
		},
		{"force ignores coverage", []span.Span{req}, true, []span.Span{req}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Missing(req, tt.covered, tol, tt.force, minWin))
		})
	}

	assert.Nil(t, Missing(span.Span{}, nil, tol, true, minWin))
}

func TestReconciler_GroupsIdenticalGaps(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, 60*time.Second)

	window := sp("2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z")
	_, err := ix.Insert(ctx, nwaoBHZ, sp("2025-01-01T00:00:00Z", "2025-01-01T12:00:00Z"))
	require.NoError(t, err)
	_, err = ix.Insert(ctx, nwaoBHN, sp("2025-01-01T00:00:00Z", "2025-01-01T12:00:00Z"))
	require.NoError(t, err)

	chunk := storage.Chunk{
		RunID:    "r1",
		Channels: []storage.NSLC{nwaoBHZ, nwaoBHN, armaHHZ},
		Start:    window.Start,
		End:      window.End,
	}
	parts, err := NewReconciler(ix, ReconcilerOptions{MinWindow: 3 * time.Second}).Filter(ctx, chunk)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, []storage.NSLC{armaHHZ}, parts[0].Channels)
	assert.Equal(t, window, parts[0].Span())

	assert.Equal(t, []storage.NSLC{nwaoBHN, nwaoBHZ}, parts[1].Channels)
	assert.Equal(t, sp("2025-01-01T12:00:00Z", "2025-01-02T00:00:00Z"), parts[1].Span())
	assert.Equal(t, storage.ChunkID(parts[1].Channels, parts[1].Start, parts[1].End), parts[1].ID)
	assert.Equal(t, "r1", parts[1].RunID)
}

func TestReconciler_NoDataMarks(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, 60*time.Second)
	window := sp("2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z")

	require.NoError(t, ix.Update(ctx, []storage.NSLC{nwaoBHZ}, func(tx *storage.Tx) error {
		return tx.MarkNoData(nwaoBHZ, window)
	}))
	chunk := storage.Chunk{Channels: []storage.NSLC{nwaoBHZ}, Start: window.Start, End: window.End}

	fresh := NewReconciler(ix, ReconcilerOptions{NoDataTTL: time.Hour, Now: clock})
	parts, err := fresh.Filter(ctx, chunk)
	require.NoError(t, err)
	assert.Empty(t, parts)

	expired := NewReconciler(ix, ReconcilerOptions{NoDataTTL: time.Hour, Now: func() time.Time { return fixedNow.Add(2 * time.Hour) }})
	parts, err = expired.Filter(ctx, chunk)
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	disabled := NewReconciler(ix, ReconcilerOptions{Now: clock})
	parts, err = disabled.Filter(ctx, chunk)
	require.NoError(t, err)
	assert.Len(t, parts, 1)
}

func TestReconciler_Force(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, 60*time.Second)
	window := sp("2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z")
	_, err := ix.Insert(ctx, nwaoBHZ, window)
	require.NoError(t, err)

	chunk := storage.Chunk{Channels: []storage.NSLC{nwaoBHZ}, Start: window.Start, End: window.End}
	parts, err := NewReconciler(ix, ReconcilerOptions{Force: true}).Filter(ctx, chunk)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, window, parts[0].Span())
}

type recordingDiscoverer struct {
	calls   []storage.NSLC
	windows []span.Span
	ix      *storage.Index
	fill    span.Span
}

func (d *recordingDiscoverer) Discover(ctx context.Context, id storage.NSLC, window span.Span) (sds.ScanResult, error) {
	d.calls = append(d.calls, id)
	d.windows = append(d.windows, window)
	_, err := d.ix.Insert(ctx, id, d.fill)
	return sds.ScanResult{Indexed: 1}, err
}

func TestReconciler_DiscoversLocalFilesFirst(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, 60*time.Second)
	window := sp("2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z")

	d := &recordingDiscoverer{ix: ix, fill: window}
	parts, err := NewReconciler(ix, ReconcilerOptions{Discover: d}).Filter(ctx,
		storage.Chunk{Channels: []storage.NSLC{nwaoBHZ}, Start: window.Start, End: window.End})
	require.NoError(t, err)
	assert.Empty(t, parts)
	assert.Equal(t, []storage.NSLC{nwaoBHZ}, d.calls)
}

func TestReconciler_SkipsDiscoveryWhenIndexed(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, 60*time.Second)
	window := sp("2025-01-01T00:00:00Z", "2025-01-03T00:00:00Z")
	_, err := ix.Insert(ctx, nwaoBHZ, window)
	require.NoError(t, err)

	d := &recordingDiscoverer{ix: ix, fill: window}
	parts, err := NewReconciler(ix, ReconcilerOptions{Discover: d}).Filter(ctx,
		storage.Chunk{Channels: []storage.NSLC{nwaoBHZ}, Start: window.Start, End: window.End})
	require.NoError(t, err)
	assert.Empty(t, parts)
	assert.Empty(t, d.calls, "a covered window needs no disk scan")
}

func TestReconciler_DiscoversOnlyGaps(t *testing.T) {
	ctx := context.Background()
	ix := openIndex(t, 60*time.Second)
	window := sp("2025-01-01T00:00:00Z", "2025-01-03T00:00:00Z")
	_, err := ix.Insert(ctx, nwaoBHZ, sp("2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"))
	require.NoError(t, err)

	gap := sp("2025-01-02T00:00:00Z", "2025-01-03T00:00:00Z")
	d := &recordingDiscoverer{ix: ix, fill: gap}
	parts, err := NewReconciler(ix, ReconcilerOptions{Discover: d}).Filter(ctx,
		storage.Chunk{Channels: []storage.NSLC{nwaoBHZ}, Start: window.Start, End: window.End})
	require.NoError(t, err)
	assert.Empty(t, parts)
	assert.Equal(t, []span.Span{gap}, d.windows)
}
