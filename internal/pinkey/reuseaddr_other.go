//go:build !unix

package pinkey

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
