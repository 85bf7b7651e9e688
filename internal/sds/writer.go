package sds

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/mseed"
	"github.com/runnerr0/seedvault/internal/storage"
)

// Writer places fetched miniSEED payloads into an SDS tree. Writes go
// through Stage, Swap and then either Finalize or Rollback, so a payload
// can be withdrawn if the index update that follows it fails.
type Writer struct {
	root string
	log  *zap.Logger
}

// NewWriter returns a writer rooted at root.
func NewWriter(root string, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{root: root, log: log}
}

// Root returns the SDS root directory.
func (w *Writer) Root() string {
	return w.root
}

// Staged is a payload written to temporary files next to its destinations.
type Staged struct {
	// Streams lists every NSLC the payload carried records for.
	Streams  []storage.NSLC
	Bytes    int64
	Checksum string

	files   []*stagedFile
	swapped int
	log     *zap.Logger
}

type stagedFile struct {
	final  string
	temp   string
	backup string
	hadOld bool
}

type dayKey struct {
	id  storage.NSLC
	day time.Time
}

// Stage splits data into per-stream, per-day files, merges each with the
// day file already on disk, and writes the result to a temp file beside it.
// Nothing visible changes until Swap.
func (w *Writer) Stage(data []byte, recs []mseed.Record) (*Staged, error) {
	st := &Staged{
		Bytes:    int64(len(data)),
		Checksum: Checksum(data),
		log:      w.log,
	}

	groups := make(map[dayKey][]recordBytes)
	seen := make(map[storage.NSLC]bool)
	for _, r := range recs {
		id := storage.NSLC{Network: r.Network, Station: r.Station, Location: r.Location, Channel: r.Channel}
		k := dayKey{id: id, day: Truncate(r.Start)}
		groups[k] = append(groups[k], recordBytes{rec: r, raw: data[r.Offset : r.Offset+r.Length]})
		if !seen[id] {
			seen[id] = true
			st.Streams = append(st.Streams, id)
		}
	}
	storage.SortNSLCs(st.Streams)

	keys := make([]dayKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if a, b := keys[i].id.String(), keys[j].id.String(); a != b {
			return a < b
		}
		return keys[i].day.Before(keys[j].day)
	})

	for _, k := range keys {
		f, err := w.stageDay(k, groups[k])
		if err != nil {
			st.Discard()
			return nil, err
		}
		st.files = append(st.files, f)
	}
	return st, nil
}

type recordBytes struct {
	rec mseed.Record
	raw []byte
}

func (w *Writer) stageDay(k dayKey, incoming []recordBytes) (*stagedFile, error) {
	final := DayPath(w.root, k.id, k.day)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return nil, errors.Wrapf(err, "create %s", filepath.Dir(final))
	}

	var merged []recordBytes
	have := make(map[int64]bool)
	old, err := os.ReadFile(final)
	exists := err == nil
	switch {
	case exists:
		recs, perr := mseed.Parse(old)
		if perr != nil {
			return nil, failure.Wrapf(perr, failure.Parse, "existing day file %s", final)
		}
		for _, r := range recs {
			merged = append(merged, recordBytes{rec: r, raw: old[r.Offset : r.Offset+r.Length]})
			if r.ID() == k.id.String() {
				have[r.Start.UnixNano()] = true
			}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.Wrapf(err, "read %s", final)
	}

	added := 0
	for _, rb := range incoming {
		if have[rb.rec.Start.UnixNano()] {
			continue
		}
		have[rb.rec.Start.UnixNano()] = true
		merged = append(merged, rb)
		added++
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].rec.Start.Before(merged[j].rec.Start)
	})

	var buf bytes.Buffer
	for _, rb := range merged {
		buf.Write(rb.raw)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), filepath.Base(final)+".*.tmp")
	if err != nil {
		return nil, errors.Wrapf(err, "stage %s", final)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, errors.Wrapf(err, "close %s", tmp.Name())
	}

	w.log.Debug("staged day file",
		zap.String("path", final),
		zap.Int("records_added", added),
		zap.Int("records_total", len(merged)))

	return &stagedFile{
		final:  final,
		temp:   tmp.Name(),
		backup: final + ".bak",
		hadOld: exists,
	}, nil
}

// Paths returns the destination of every staged file.
func (s *Staged) Paths() []string {
	out := make([]string, len(s.files))
	for i, f := range s.files {
		out[i] = f.final
	}
	return out
}

// Swap moves every staged file into place, keeping the previous version as
// a backup. If any rename fails the files already swapped are restored.
func (s *Staged) Swap() error {
	for _, f := range s.files[s.swapped:] {
		if f.hadOld {
			if err := os.Rename(f.final, f.backup); err != nil {
				s.Rollback() //nolint:errcheck
				return errors.Wrapf(err, "back up %s", f.final)
			}
		}
		if err := os.Rename(f.temp, f.final); err != nil {
			if f.hadOld {
				os.Rename(f.backup, f.final) //nolint:errcheck
			}
			s.Rollback() //nolint:errcheck
			return errors.Wrapf(err, "move %s into place", f.final)
		}
		s.swapped++
	}
	return nil
}

// Rollback restores the files replaced by Swap and removes anything staged
// but not yet swapped.
func (s *Staged) Rollback() error {
	var errs error
	for i := s.swapped - 1; i >= 0; i-- {
		f := s.files[i]
		if f.hadOld {
			if err := os.Rename(f.backup, f.final); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "restore %s", f.final))
			}
		} else if err := os.Remove(f.final); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "remove %s", f.final))
		}
	}
	s.swapped = 0
	s.Discard()
	if errs != nil {
		s.log.Error("rollback incomplete", zap.Error(errs))
	}
	return errs
}

// Discard removes temp files that were never swapped in.
func (s *Staged) Discard() {
	for _, f := range s.files[s.swapped:] {
		os.Remove(f.temp)
	}
}

// Finalize drops the backups kept by Swap.
func (s *Staged) Finalize() {
	for _, f := range s.files[:s.swapped] {
		if f.hadOld {
			if err := os.Remove(f.backup); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("remove backup", zap.String("path", f.backup), zap.Error(err))
			}
		}
	}
}

// Checksum returns the xxh3 digest of data as hex.
func Checksum(data []byte) string {
	return strconv.FormatUint(xxh3.Hash(data), 16)
}
