// Copyright 2026 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package privdrop irrevocably drops all capabilities of all OS-level threads of
the calling process, so that neither the caller nor any process it
subsequently creates (and especially execs) can ever regain them.

As Linux capabilities are a per-task (thread) property, privdrop acts on all
threads of the Go runtime using [syscall.AllThreadsSyscall]. This is
unsupported in binaries linked with cgo, so binaries dropping privileges must
be built with CGO_ENABLED=0 (and the netgo and usergo tags, where needed).
*/
package privdrop

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/thediveo/caps"
	"github.com/thediveo/caps/errno"
	"golang.org/x/sys/unix"
)

// Secure bits, see include/uapi/linux/securebits.h.
const (
	secbitNoRoot                  = 1 << 0
	secbitNoRootLocked            = 1 << 1
	secbitNoSetuidFixup           = 1 << 2
	secbitNoSetuidFixupLocked     = 1 << 3
	secbitNoCapAmbientRaise       = 1 << 6
	secbitNoCapAmbientRaiseLocked = 1 << 7
	lockedSecurebits              = secbitNoRoot | secbitNoRootLocked |
		secbitNoSetuidFixup | secbitNoSetuidFixupLocked |
		secbitNoCapAmbientRaise | secbitNoCapAmbientRaiseLocked
)

// Drop irrevocably drops all capabilities of all threads of the calling
// process. Before clearing the effective, permitted, and inheritable
// capability sets it hardens the threads so that a later execve(2) cannot hand
// out capabilities again: setting “no new privileges”, locking the secure bits
// and emptying the bounding set (where allowed to), and clearing the ambient
// set.
//
// Drop panics if clearing the capability sets fails: continuing with retained
// privileges and then running user-controlled code is never an option. Drop
// also panics in binaries linked with cgo.
func Drop(log *slog.Logger) {
	drop(log, allThreadsPrctl, clearAllThreads)
}

// prctlFunc runs prctl(2) with the specified option and single argument.
type prctlFunc func(option int, arg2 uintptr) error

func drop(log *slog.Logger, prctl prctlFunc, clear func() error) {
	harden(log, prctl)
	if err := clear(); err != nil {
		panic(fmt.Sprintf("cannot drop capabilities, reason: %s", err.Error()))
	}
}

// harden all threads against regaining capabilities, as far as their current
// capabilities allow.
func harden(log *slog.Logger, prctl prctlFunc) {
	if err := prctl(unix.PR_SET_NO_NEW_PRIVS, 1); err != nil {
		log.Warn("cannot set no new privileges",
			slog.String("err", err.Error()))
	}
	// needs CAP_SETPCAP, which we might not have when not running as root.
	if err := prctl(unix.PR_SET_SECUREBITS, lockedSecurebits); err != nil {
		log.Debug("cannot lock securebits",
			slog.String("err", err.Error()))
	}
	lastcap := caps.LastCapability()
	for capno := 0; capno <= lastcap; capno++ {
		if err := prctl(unix.PR_CAPBSET_DROP, uintptr(capno)); err != nil {
			log.Debug("cannot drop bounding set",
				slog.Int("cap", capno),
				slog.String("err", err.Error()))
			break
		}
	}
	if err := prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_CLEAR_ALL); err != nil &&
		!errors.Is(err, unix.EINVAL) {
		log.Warn("cannot clear ambient capabilities",
			slog.String("err", err.Error()))
	}
}

// allThreadsPrctl runs prctl(2) with the specified option and single argument
// on all threads.
func allThreadsPrctl(option int, arg2 uintptr) error {
	_, _, e := syscall.AllThreadsSyscall6(unix.SYS_PRCTL, uintptr(option), arg2, 0, 0, 0, 0)
	return allThreadsError(e)
}

// clearAllThreads clears the effective, permitted, and inheritable capability
// sets of all threads.
func clearAllThreads() error {
	header := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [caps.LINUX_CAPABILITY_U32S_3]unix.CapUserData
	_, _, e := syscall.AllThreadsSyscall(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(&header)), uintptr(unsafe.Pointer(&data[0])), 0)
	runtime.KeepAlive(&header)
	runtime.KeepAlive(&data)
	return allThreadsError(e)
}

// allThreadsError returns the error for the passed errno of an all-threads
// syscall. It panics when the Go runtime cannot act on all threads.
func allThreadsError(e syscall.Errno) error {
	if e == syscall.ENOTSUP {
		panic("cannot act on all threads, binary must not be linked with cgo")
	}
	return errno.Error(e)
}
