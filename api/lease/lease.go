package lease

import (
	"context"
	"errors"
)

var ErrHeld = errors.New("lease held by another build")

// Locker serializes access to a resource's artifact working tree. Keys are
// resource ids and holders are build ids. Acquiring a lease already held by
// the same holder succeeds; releasing a lease held by someone else is a no-op.
type Locker interface {
	Acquire(ctx context.Context, key, holder string) error
	Release(ctx context.Context, key, holder string) error
	Holder(ctx context.Context, key string) (string, error)
}
