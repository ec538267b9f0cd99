package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/harunnryd/elara/pkg/errorsx"
)

const (
	pollInitialInterval = 25 * time.Millisecond
	pollMaxInterval     = 200 * time.Millisecond
)

// ErrResultTimeout is returned when no result appears within the bound.
var ErrResultTimeout = errors.New("timeout waiting for job result")

type workerStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// PollResult waits for a worker result under key, bounded by timeout.
// An absent key means "not ready yet", never failure. The key is deleted
// once consumed so a result is delivered at most once. The wait backs
// off exponentially between probes.
func PollResult(ctx context.Context, q Queue, key string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	interval := pollInitialInterval

	for {
		val, err := q.Get(ctx, key)
		if err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonQueuePoll)
		}
		if val != nil {
			_ = q.Del(ctx, key)
			var st workerStatus
			if json.Unmarshal(val, &st) == nil && st.Status == "error" {
				msg := st.Error
				if msg == "" {
					msg = "worker error"
				}
				return nil, errorsx.Wrap(errors.New(msg), errorsx.ReasonProviderUnavailable)
			}
			return val, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errorsx.Wrap(ErrResultTimeout, errorsx.ReasonProviderUnavailable)
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		interval *= 2
		if interval > pollMaxInterval {
			interval = pollMaxInterval
		}
	}
}
