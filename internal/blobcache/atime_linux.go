//go:build linux

package blobcache

import (
	"io/fs"
	"syscall"
	"time"
)

// accessTime returns the file's last-access time. Falls back to mtime
// only when the platform stat struct is unavailable; on noatime/relatime
// mounts the recorded atime itself is stale or coarse and is used as is
// (an acceptable tie per spec.md §9).
func accessTime(info fs.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	}
	return info.ModTime()
}
