package webdavfs

import (
	"syscall"

	"github.com/pkg/errors"
)

// Quota reports filesystem usage statistics for the volume containing
// path, surfaced through PROPFIND's quota-used-bytes and
// quota-available-bytes properties.
type Quota struct {
	UsedBytes      uint64
	AvailableBytes uint64
}

// StatQuota reads quota statistics via statfs(2).
func StatQuota(path string) (Quota, error) {
	var s syscall.Statfs_t
	if err := syscall.Statfs(path, &s); err != nil {
		return Quota{}, errors.Wrap(err, "webdavfs: statfs")
	}
	bs := uint64(s.Bsize) // nolint: unconvert
	return Quota{
		UsedBytes:      bs * (uint64(s.Blocks) - uint64(s.Bfree)),
		AvailableBytes: bs * uint64(s.Bavail),
	}, nil
}
