// Package transports defines the client-facing surfaces the daemon can
// serve.
package transports

import "context"

// Transport accepts client connections and feeds them into the
// orchestrator.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
