package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

func TestMaintain_RequiresAnAction(t *testing.T) {
	ix, cfg := setupIndex(t, 0)
	cmd := &MaintainCommand{globals: &GlobalFlags{}}
	err := cmd.executeWithIndex(context.Background(), ix, cfg, time.Now(), &bytes.Buffer{})
	assert.ErrorContains(t, err, "nothing to do")
}

func TestMaintain_InvalidDuration(t *testing.T) {
	ix, cfg := setupIndex(t, 0)
	cmd := &MaintainCommand{globals: &GlobalFlags{}, PruneJournal: "soon"}
	err := cmd.executeWithIndex(context.Background(), ix, cfg, time.Now(), &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid --prune-journal")
}

// seedGappy stores two segments 30 s apart under a zero tolerance index.
func seedGappy(t *testing.T, ix *storage.Index) {
	t.Helper()
	ctx := context.Background()
	_, err := ix.Insert(ctx, nwao, span.New(day(1), day(2)))
	require.NoError(t, err)
	_, err = ix.Insert(ctx, nwao, span.New(day(2).Add(30*time.Second), day(3)))
	require.NoError(t, err)
}

func TestMaintain_Join(t *testing.T) {
	ctx := context.Background()
	ix, cfg := setupIndex(t, 0)
	seedGappy(t, ix)
	cfg.Processing.GapTolerance = 60

	var out bytes.Buffer
	cmd := &MaintainCommand{globals: &GlobalFlags{}, Join: true, Analyze: true, Vacuum: true}
	require.NoError(t, cmd.executeWithIndex(ctx, ix, cfg, time.Now(), &out))
	assert.Contains(t, out.String(), "Joined 1 segments.")
	assert.Contains(t, out.String(), "Reindexed and analyzed.")
	assert.Contains(t, out.String(), "Vacuumed:")

	segs, err := ix.Segments(ctx, nwao)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].End.Equal(day(3)))
}

func TestMaintain_DryRunChangesNothing(t *testing.T) {
	ctx := context.Background()
	ix, cfg := setupIndex(t, 0)
	seedGappy(t, ix)

	var out bytes.Buffer
	cmd := &MaintainCommand{globals: &GlobalFlags{}, Join: true, PruneJournal: "30d", DryRun: true}
	require.NoError(t, cmd.executeWithIndex(ctx, ix, cfg, time.Now(), &out))
	assert.Contains(t, out.String(), "Dry run")
	assert.Contains(t, out.String(), "delete finished journal rows before")

	segs, err := ix.Segments(ctx, nwao)
	require.NoError(t, err)
	assert.Len(t, segs, 2)
}

func TestMaintain_PruneJournalAndNoData(t *testing.T) {
	ctx := context.Background()
	ix, cfg := setupIndex(t, 0)

	done := storage.Chunk{Channels: []storage.NSLC{nwao}, Start: day(1), End: day(2)}
	done.ID = storage.ChunkID(done.Channels, done.Start, done.End)
	open := storage.Chunk{Channels: []storage.NSLC{nwao}, Start: day(2), End: day(3)}
	open.ID = storage.ChunkID(open.Channels, open.Start, open.End)
	require.NoError(t, ix.PlanChunks(ctx, "run", []storage.Chunk{done, open}))
	require.NoError(t, ix.Update(ctx, []storage.NSLC{nwao}, func(tx *storage.Tx) error {
		if err := tx.MarkNoData(nwao, span.New(day(4), day(5))); err != nil {
			return err
		}
		return tx.MarkChunkDone(done.ID, 0, "")
	}))

	later := time.Now().Add(72 * time.Hour)
	var out bytes.Buffer
	cmd := &MaintainCommand{globals: &GlobalFlags{JSON: true}, PruneJournal: "1d", PruneNoData: "1d"}
	require.NoError(t, cmd.executeWithIndex(ctx, ix, cfg, later, &out))

	var got maintainJSON
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, int64(1), got.JournalPruned, "only finished rows are pruned")
	assert.Equal(t, int64(1), got.NoDataPruned)

	pending, err := ix.ChunksByStatus(ctx, storage.ChunkPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].ID)
}
