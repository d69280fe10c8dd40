//go:build !linux

package teardown

import "syscall"

func detachAttrs() *syscall.SysProcAttr {
	return nil
}
