// SPDX-License-Identifier: MPL-2.0

//go:build unix && !linux

package runctx

import "syscall"

func sysProcAttr(ctty bool) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: ctty,
		Ctty:    0,
	}
}
