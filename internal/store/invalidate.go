package store

import (
	"context"
)

// Invalidator drops cached copies of objects that are rewritten in place.
type Invalidator interface {
	Invalidate(context.Context, []string) error
}
