//go:build !unix

package link

import "syscall"

// setReusable is a no-op on non-unix platforms; socket address reuse for
// concurrent multicast listeners is a unix-only concern here.
func setReusable(_ syscall.RawConn) error { return nil }
