package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// OracleStatus reports whether the cost oracle is reachable. The
// check is local state, not a remote probe; only the health job talks
// to the oracle itself.
type OracleStatus interface {
	Healthy() bool
}
