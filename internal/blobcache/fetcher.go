package blobcache

import (
	"context"
	"io"
)

// ObjectFetcher is the opaque fetch-by-key capability the cache consumes.
// Implementations live in package objectstore; this interface is narrow by
// design (spec.md §1: "treated as an opaque fetch-by-key capability").
type ObjectFetcher interface {
	// Fetch streams the object named by key to w. Implementations should
	// return an error classified via cacheerr (KindNotFound when the
	// store has no such key, KindTransport otherwise) so Cache.Get can
	// propagate the right status without inspecting message text.
	Fetch(ctx context.Context, key string, w io.Writer) error
}
