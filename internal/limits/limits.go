// Package limits queries process resource limits. Spec §1 treats
// file-descriptor-limit queries as an external collaborator referenced
// through a thin interface; this is that interface's one real
// implementation (spec §6 "Default max concurrent clients = process
// file-descriptor limit minus a small offset").
package limits

import "golang.org/x/sys/unix"

// reservedFDs accounts for stdio, the listener socket, the signal pipe, and
// headroom for the metrics/mDNS listeners, mirroring the "small offset" the
// spec names without pinning a value.
const reservedFDs = 16

// MaxClients returns the default maximum number of concurrent client
// connections derived from RLIMIT_NOFILE. On error it falls back to a
// conservative constant rather than failing startup.
func MaxClients() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 256
	}
	n := int(rl.Cur) - reservedFDs
	if n < 1 {
		n = 1
	}
	return n
}
