package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"brainlink/pkg/protocol"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

var ErrUnknownKind = errors.New("store: unknown reading kind")

const defaultBatchSize = 256

// Archive persists readings in a pebble database keyed by KSUID. The KSUID
// timestamp is the reading's second; the payload carries the sub-second offset
// and a sequence number, so key order is arrival order.
type Archive struct {
	db        *pebble.DB
	enc       cbor.EncMode
	dec       cbor.DecMode
	seq       atomic.Uint64
	kinds     map[protocol.Kind]bool
	batchSize int
	sync      bool
	log       zerolog.Logger
}

type Option func(*Archive)

// WithKinds limits the archive to the given kinds. Raw samples are excluded by
// default.
func WithKinds(kinds ...protocol.Kind) Option {
	return func(a *Archive) {
		a.kinds = make(map[protocol.Kind]bool, len(kinds))
		for _, k := range kinds {
			a.kinds[k] = true
		}
	}
}

func WithBatchSize(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithSync makes every commit durable before returning.
func WithSync(sync bool) Option {
	return func(a *Archive) {
		a.sync = sync
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(a *Archive) {
		a.log = log
	}
}

// record is the stored value.
type record struct {
	Kind uint8 `cbor:"kind"`
	TS   int64 `cbor:"ts"`
	Data any   `cbor:"data,omitempty"`
}

// Entry is a decoded archive record. Data holds generic CBOR values: maps with
// string keys, integers, floats, strings and slices.
type Entry struct {
	ID        ksuid.KSUID
	Kind      protocol.Kind
	Timestamp time.Time
	Data      any
}

func Open(dir string, opts ...Option) (*Archive, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("store: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("store: cbor decoder: %w", err)
	}

	a := &Archive{
		enc: enc,
		dec: dec,
		kinds: map[protocol.Kind]bool{
			protocol.KindCognitive: true,
			protocol.KindTelemetry: true,
			protocol.KindGyro:      true,
			protocol.KindRR:        true,
		},
		batchSize: defaultBatchSize,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	a.db = db
	a.seq.Store(uint64(time.Now().UnixNano()))
	return a, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) writeOpts() *pebble.WriteOptions {
	if a.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Accepts reports whether readings of kind k are archived.
func (a *Archive) Accepts(k protocol.Kind) bool {
	return a.kinds[k]
}

func (a *Archive) key(ts time.Time) (ksuid.KSUID, error) {
	var payload [16]byte
	binary.BigEndian.PutUint32(payload[0:4], uint32(ts.Nanosecond()))
	binary.BigEndian.PutUint64(payload[4:12], a.seq.Add(1))
	return ksuid.FromParts(ts, payload[:])
}

func (a *Archive) encode(r protocol.Reading) (ksuid.KSUID, []byte, error) {
	if !r.Kind.Valid() {
		return ksuid.Nil, nil, fmt.Errorf("%w: %d", ErrUnknownKind, r.Kind)
	}
	data := r.Data
	if t, ok := data.(protocol.ExtendedTelemetry); ok {
		// unknown field statistics are diagnostic and stay live-only
		t.Unknown = nil
		data = t
	}
	value, err := a.enc.Marshal(record{Kind: uint8(r.Kind), TS: r.Timestamp.UnixNano(), Data: data})
	if err != nil {
		return ksuid.Nil, nil, fmt.Errorf("store: encode %s: %w", r.Kind, err)
	}
	id, err := a.key(r.Timestamp)
	if err != nil {
		return ksuid.Nil, nil, fmt.Errorf("store: key: %w", err)
	}
	return id, value, nil
}

// Append stores r regardless of the kind filter.
func (a *Archive) Append(r protocol.Reading) (ksuid.KSUID, error) {
	id, value, err := a.encode(r)
	if err != nil {
		return ksuid.Nil, err
	}
	if err := a.db.Set(id.Bytes(), value, a.writeOpts()); err != nil {
		return ksuid.Nil, fmt.Errorf("store: set: %w", err)
	}
	return id, nil
}

// Consume archives accepted readings from in until it is closed or ctx is
// done. Readings already queued are committed together.
func (a *Archive) Consume(ctx context.Context, in <-chan protocol.Reading) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-in:
			if !ok {
				return nil
			}
			batch := a.db.NewBatch()
			a.add(batch, r)
			open := a.drain(batch, in)
			if err := a.commit(batch); err != nil {
				return err
			}
			if !open {
				return nil
			}
		}
	}
}

func (a *Archive) drain(batch *pebble.Batch, in <-chan protocol.Reading) bool {
	for n := 1; n < a.batchSize; n++ {
		select {
		case r, ok := <-in:
			if !ok {
				return false
			}
			a.add(batch, r)
		default:
			return true
		}
	}
	return true
}

func (a *Archive) add(batch *pebble.Batch, r protocol.Reading) {
	if !a.Accepts(r.Kind) {
		return
	}
	id, value, err := a.encode(r)
	if err != nil {
		a.log.Warn().Err(err).Msg("skip reading")
		return
	}
	_ = batch.Set(id.Bytes(), value, nil)
}

func (a *Archive) commit(batch *pebble.Batch) error {
	defer batch.Close()
	if batch.Empty() {
		return nil
	}
	if err := batch.Commit(a.writeOpts()); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Scan calls fn for every entry in key order. Returning an error from fn stops
// the scan and returns that error.
func (a *Archive) Scan(fn func(Entry) error) error {
	return a.scan(&pebble.IterOptions{}, fn)
}

// ScanRange scans entries with from <= timestamp second < to. A zero bound is
// open.
func (a *Archive) ScanRange(from, to time.Time, fn func(Entry) error) error {
	opts := &pebble.IterOptions{}
	if !from.IsZero() {
		opts.LowerBound = boundKey(from)
	}
	if !to.IsZero() {
		opts.UpperBound = boundKey(to)
	}
	return a.scan(opts, fn)
}

func boundKey(t time.Time) []byte {
	id, _ := ksuid.FromParts(t, make([]byte, 16))
	return id.Bytes()
}

func (a *Archive) scan(opts *pebble.IterOptions, fn func(Entry) error) error {
	iter, err := a.db.NewIter(opts)
	if err != nil {
		return fmt.Errorf("store: iterator: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		entry, err := a.decode(iter.Key(), iter.Value())
		if err != nil {
			_ = iter.Close()
			return err
		}
		if err := fn(entry); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}

func (a *Archive) decode(key, value []byte) (Entry, error) {
	id, err := ksuid.FromBytes(key)
	if err != nil {
		return Entry{}, fmt.Errorf("store: key %x: %w", key, err)
	}
	var rec record
	if err := a.dec.Unmarshal(value, &rec); err != nil {
		return Entry{}, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return Entry{
		ID:        id,
		Kind:      protocol.Kind(rec.Kind),
		Timestamp: time.Unix(0, rec.TS).UTC(),
		Data:      rec.Data,
	}, nil
}

// Reading converts an entry back into a pipeline reading with generic data.
func (e Entry) Reading() protocol.Reading {
	return protocol.Reading{Kind: e.Kind, Timestamp: e.Timestamp, Data: e.Data}
}
