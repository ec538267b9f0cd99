// Package jobqueue is the durable queue the transcription and synthesis
// workers consume. Jobs are pushed onto a list; workers publish results
// under per-job keys which the caller polls and deletes on consumption.
package jobqueue

import "context"

// Queue is the minimal surface the adapters need: push a job, read a
// result key, delete it once consumed. A nil result with a nil error
// means "not ready yet".
type Queue interface {
	Push(ctx context.Context, queue string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
}
