package rapserver

import (
	"os/user"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// dropToUser irrevocably sets this process's gid/groups/uid to
// username's. Failure here is always fatal to the RAP: it must never
// keep serving requests with its original privileges.
func dropToUser(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return errors.Wrap(err, "rapserver: lookup user")
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return errors.Wrap(err, "rapserver: parse uid")
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return errors.Wrap(err, "rapserver: parse gid")
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return errors.Wrap(err, "rapserver: lookup supplementary groups")
	}
	groups := make([]int, 0, len(groupIDs))
	for _, g := range groupIDs {
		n, err := strconv.Atoi(g)
		if err != nil {
			continue
		}
		groups = append(groups, n)
	}

	if err := syscall.Setgroups(groups); err != nil {
		return errors.Wrap(err, "rapserver: setgroups")
	}
	if err := syscall.Setgid(gid); err != nil {
		return errors.Wrap(err, "rapserver: setgid")
	}
	if err := syscall.Setuid(uid); err != nil {
		return errors.Wrap(err, "rapserver: setuid")
	}
	return nil
}
