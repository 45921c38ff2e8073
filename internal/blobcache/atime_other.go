//go:build !linux

package blobcache

import (
	"io/fs"
	"time"
)

// accessTime falls back to mtime on platforms where this module does
// not parse the raw stat struct for atime (spec.md §9 permits this).
func accessTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
