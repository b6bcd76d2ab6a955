// Package rooms defines the credential broker contract: provisioning a
// provider-managed session room with a time-bounded access token, and
// releasing it when the session ends.
package rooms

import (
	"context"
	"time"
)

// Room is a provider-managed audio session endpoint. Downstream code must
// treat it purely as an opaque joinable endpoint: a recovered fallback room
// is indistinguishable from a freshly created one.
type Room struct {
	Name   string
	URL    string
	Expiry time.Time
}

// Broker provisions and releases rooms.
type Broker interface {
	// Provision returns a joinable room and an access token for it. Room
	// creation never fails outright (a deterministic fallback room is used
	// when creation is degraded), but token issuance failure is returned:
	// a session cannot start without a valid token.
	Provision(ctx context.Context, name string) (Room, string, error)

	// Release deletes the named room and reports whether deletion
	// succeeded. Failure is treated as "already gone", never returned.
	Release(ctx context.Context, name string) bool
}
