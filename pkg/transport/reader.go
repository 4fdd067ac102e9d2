package transport

import (
	"context"
	"errors"
	"io"
)

// ReadChunks copies r into out in chunks of at most size bytes until EOF. It
// is used to replay raw captures through the same path as a live link.
func ReadChunks(ctx context.Context, r io.Reader, out chan<- []byte, size int) error {
	if size <= 0 {
		size = 4 * 1024
	}
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
