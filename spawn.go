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

package pidspace

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Descriptor describes a stage process to create: its role, the ceiling of
// its go routine stacks, and the namespaces to create for it.
type Descriptor struct {
	Role  Role
	Stack StackSize
	Flags uintptr
}

// descriptor returns the process descriptor of the passed stage role.
func (c *Config) descriptor(entry Role) Descriptor {
	switch entry {
	case NamespaceManagerEntry:
		return Descriptor{Role: entry, Stack: c.ManagerStack, Flags: unix.CLONE_NEWPID}
	case ExecRunnerEntry:
		return Descriptor{Role: entry, Stack: c.RunnerStack}
	}
	return Descriptor{}
}

// spawn creates a new stage process as described, re-executing the configured
// binary with the passed command as its arguments. The optional report file
// becomes fd 3 of the new process. spawn returns the PID of the new process
// as seen from the caller's PID namespace.
//
// The new process is never waited for individually; the caller must instead
// reap it as part of all its children.
func (c *Config) spawn(d Descriptor, command []string, report *os.File) (int, error) {
	if d.Role == NoEntry {
		return 0, errors.New("cannot spawn without a stage entry")
	}
	if d.Flags&^uintptr(unix.CLONE_NEWPID) != 0 {
		return 0, fmt.Errorf("cannot spawn %s with unsupported clone flags %#x",
			d.Role, d.Flags&^uintptr(unix.CLONE_NEWPID))
	}
	files := []*os.File{c.Stdin, c.Stdout, c.Stderr}
	if report != nil {
		files = append(files, report)
	}
	argv := append([]string{"pidspace-" + d.Role.String()}, command...)
	proc, err := c.Start(c.Exe, argv, &os.ProcAttr{
		Env:   c.environ(os.Environ(), d),
		Files: files,
		Sys: &syscall.SysProcAttr{
			Cloneflags: d.Flags,
		},
	})
	if err != nil {
		return 0, err
	}
	pid := proc.Pid
	_ = proc.Release()
	return pid, nil
}
