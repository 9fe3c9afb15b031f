//go:build linux

package nsjail

import (
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/isobox/isobox/isoerr"
)

// FinalizeMountNamespace remounts / as MS_SLAVE|MS_REC so later mount
// activity inside the jail never propagates back out to the host, the
// first step of the namespace isolator's fixed ordering.
func FinalizeMountNamespace() error {
	if err := unix.Mount("", "/", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return isoerr.Wrap(err, isoerr.Namespace, "remount / MS_SLAVE|MS_REC")
	}
	return nil
}

// BringUpLoopback brings `lo` up inside the (possibly new) network
// namespace, step two of the isolator's ordering. Skipped entirely when
// the run shares the host network namespace.
func BringUpLoopback() error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		return isoerr.Wrap(err, isoerr.Namespace, "lookup lo")
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return isoerr.Wrap(err, isoerr.Namespace, "bring up lo")
	}
	return nil
}
