package domain

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned when a licence is not cached.
var ErrCacheMiss = errors.New("licence not cached")

// LicenceCache keeps stamped licences close to the read path. The ledger stays
// the source of truth; the cache is only ever written after a commit.
type LicenceCache interface {
	Get(ctx context.Context, email string) (*Licence, error)
	Set(ctx context.Context, licence *Licence) error
}
