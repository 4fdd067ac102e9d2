package logger

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"brainlink/pkg/protocol"
)

// JSONLWriter writes one JSON object per reading.
type JSONLWriter struct {
	enc   *json.Encoder
	kinds map[protocol.Kind]bool
	err   error
}

// Record is the line format shared by the JSONL sink, the decode command and
// archive export.
type Record struct {
	TS   string `json:"ts"`
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

func NewRecord(r protocol.Reading) Record {
	return Record{
		TS:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		Kind: r.Kind.String(),
		Data: r.Data,
	}
}

// NewJSONLWriter writes readings of the given kinds, or every kind when none
// are given.
func NewJSONLWriter(w io.Writer, kinds ...protocol.Kind) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	j := &JSONLWriter{enc: enc}
	if len(kinds) > 0 {
		j.kinds = make(map[protocol.Kind]bool, len(kinds))
		for _, k := range kinds {
			j.kinds[k] = true
		}
	}
	return j
}

// Write encodes r unless its kind is filtered out.
func (j *JSONLWriter) Write(r protocol.Reading) error {
	if j.kinds != nil && !j.kinds[r.Kind] {
		return nil
	}
	return j.WriteRecord(NewRecord(r))
}

func (j *JSONLWriter) WriteRecord(rec Record) error {
	if err := j.enc.Encode(rec); err != nil {
		if j.err == nil {
			j.err = err
		}
		return err
	}
	return nil
}

// Consume writes readings until in is closed or ctx is done.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan protocol.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			_ = j.Write(r)
		}
	}
}

// Err returns the first write error, if any.
func (j *JSONLWriter) Err() error {
	return j.err
}
