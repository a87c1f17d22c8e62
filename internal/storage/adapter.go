package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ChunkThreshold is the value length above which a value is split into
// parts. Matches the host storage's practical per-key limit.
const ChunkThreshold = 900_000

const (
	suffixChunkCount = "_chunkCount"
	suffixPart       = "_part_"
	suffixTimestamp  = "_timestamp"
)

// Adapter composes two backends into the engine-facing store. Writes go to
// both and succeed if either does; reads pick the newer copy by timestamp
// and sync it into the stale backend. A value whose chunks can not be
// reassembled reads as corrupted and the other backend is consulted.
type Adapter struct {
	primary   Backend
	mirror    Backend
	threshold int
	now       func() time.Time
	log       *zap.Logger
}

// AdapterOption tweaks an Adapter.
type AdapterOption func(*Adapter)

// WithChunkThreshold overrides the chunking threshold (tests).
func WithChunkThreshold(n int) AdapterOption {
	return func(a *Adapter) { a.threshold = n }
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter builds the adapter. mirror may be nil for single-backend use.
func NewAdapter(primary, mirror Backend, log *zap.Logger, opts ...AdapterOption) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		primary:   primary,
		mirror:    mirror,
		threshold: ChunkThreshold,
		now:       time.Now,
		log:       log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Get reads a logical key. When both backends hold the key the newer
// timestamp wins and the stale side is refreshed best-effort.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	pv, pts, pok, perr := a.read(ctx, a.primary, key)
	if a.mirror == nil {
		return pv, pok, perr
	}
	mv, mts, mok, merr := a.read(ctx, a.mirror, key)

	switch {
	case pok && mok:
		if mts.After(pts) {
			a.sync(ctx, a.primary, key, mv, mts)
			return mv, true, nil
		}
		if pts.After(mts) {
			a.sync(ctx, a.mirror, key, pv, pts)
		}
		return pv, true, nil
	case pok:
		if merr != nil {
			a.sync(ctx, a.mirror, key, pv, pts)
		}
		return pv, true, nil
	case mok:
		if perr != nil {
			a.log.Warn("primary storage read failed, recovered from mirror",
				zap.String("key", key), zap.Error(perr))
		}
		a.sync(ctx, a.primary, key, mv, mts)
		return mv, true, nil
	default:
		if perr != nil || merr != nil {
			return "", false, multierr.Append(perr, merr)
		}
		return "", false, nil
	}
}

// Set writes a logical key to both backends. It fails only when every
// backend fails; partial success is logged and reported as success.
func (a *Adapter) Set(ctx context.Context, key, value string) error {
	ts := a.now().UTC()
	perr := a.write(ctx, a.primary, key, value, ts)
	if a.mirror == nil {
		return perr
	}
	merr := a.write(ctx, a.mirror, key, value, ts)
	if perr != nil && merr != nil {
		return multierr.Append(perr, merr)
	}
	if perr != nil {
		a.log.Warn("primary storage write failed, mirror holds the value",
			zap.String("key", key), zap.Error(perr))
	}
	if merr != nil {
		a.log.Warn("mirror storage write failed", zap.String("key", key), zap.Error(merr))
	}
	return nil
}

// Delete removes a logical key, its chunks, and its timestamp everywhere.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	perr := a.remove(ctx, a.primary, key)
	if a.mirror == nil {
		return perr
	}
	return multierr.Append(perr, a.remove(ctx, a.mirror, key))
}

// read reassembles a possibly chunked value from one backend.
func (a *Adapter) read(ctx context.Context, b Backend, key string) (string, time.Time, bool, error) {
	ts := a.timestamp(ctx, b, key)

	countRaw, hasCount, err := b.Get(ctx, key+suffixChunkCount)
	if err != nil {
		return "", ts, false, err
	}
	if !hasCount {
		v, ok, err := b.Get(ctx, key)
		return v, ts, ok, err
	}

	count, err := strconv.Atoi(countRaw)
	if err != nil || count <= 0 {
		return "", ts, false, fmt.Errorf("%w: bad chunk count %q for %s", ErrCorrupted, countRaw, key)
	}
	var assembled []byte
	for i := 0; i < count; i++ {
		part, ok, err := b.Get(ctx, key+suffixPart+strconv.Itoa(i))
		if err != nil {
			return "", ts, false, err
		}
		if !ok {
			return "", ts, false, fmt.Errorf("%w: %s missing chunk %d of %d", ErrCorrupted, key, i, count)
		}
		assembled = append(assembled, part...)
	}
	return string(assembled), ts, true, nil
}

// write stores a value into one backend, chunking when needed.
func (a *Adapter) write(ctx context.Context, b Backend, key, value string, ts time.Time) error {
	// Drop chunks from a previous, larger incarnation of the value.
	oldCount := a.chunkCount(ctx, b, key)

	if len(value) <= a.threshold {
		if err := b.Set(ctx, key, value); err != nil {
			return err
		}
		_ = b.Delete(ctx, key+suffixChunkCount)
	} else {
		count := (len(value) + a.threshold - 1) / a.threshold
		for i := 0; i < count; i++ {
			start := i * a.threshold
			end := start + a.threshold
			if end > len(value) {
				end = len(value)
			}
			if err := b.Set(ctx, key+suffixPart+strconv.Itoa(i), value[start:end]); err != nil {
				return err
			}
		}
		if err := b.Set(ctx, key+suffixChunkCount, strconv.Itoa(count)); err != nil {
			return err
		}
		_ = b.Delete(ctx, key)
	}

	for i := chunkCountFor(len(value), a.threshold); i < oldCount; i++ {
		_ = b.Delete(ctx, key+suffixPart+strconv.Itoa(i))
	}
	return b.Set(ctx, key+suffixTimestamp, ts.Format(time.RFC3339Nano))
}

func (a *Adapter) remove(ctx context.Context, b Backend, key string) error {
	count := a.chunkCount(ctx, b, key)
	var err error
	for i := 0; i < count; i++ {
		err = multierr.Append(err, b.Delete(ctx, key+suffixPart+strconv.Itoa(i)))
	}
	err = multierr.Append(err, b.Delete(ctx, key+suffixChunkCount))
	err = multierr.Append(err, b.Delete(ctx, key))
	err = multierr.Append(err, b.Delete(ctx, key+suffixTimestamp))
	return err
}

func (a *Adapter) chunkCount(ctx context.Context, b Backend, key string) int {
	raw, ok, err := b.Get(ctx, key+suffixChunkCount)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (a *Adapter) timestamp(ctx context.Context, b Backend, key string) time.Time {
	raw, ok, err := b.Get(ctx, key+suffixTimestamp)
	if err != nil || !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// sync refreshes a stale backend with the winning value. Failures only log.
func (a *Adapter) sync(ctx context.Context, b Backend, key, value string, ts time.Time) {
	if b == nil {
		return
	}
	if err := a.write(ctx, b, key, value, ts); err != nil {
		a.log.Debug("storage sync failed", zap.String("key", key), zap.Error(err))
	}
}

func chunkCountFor(valueLen, threshold int) int {
	if valueLen <= threshold {
		return 0
	}
	return (valueLen + threshold - 1) / threshold
}
