//go:build linux

package teardown

import "syscall"

// detachAttrs puts the reaper in its own session so it survives the
// provisioning run and whatever terminal started it.
func detachAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
