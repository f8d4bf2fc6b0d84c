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
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HostPID returns the PID of the process referenced by the passed PID fd, as
// seen from the caller's PID namespace. HostPID fails for processes outside
// the caller's PID namespace as well as for already reaped processes.
//
// See also: https://stackoverflow.com/a/74856311
func HostPID(pidfd int) (int, error) {
	fdname := strconv.Itoa(pidfd)
	link, err := os.Readlink("/proc/self/fd/" + fdname)
	if err != nil {
		return 0, err
	}
	if link != "anon_inode:[pidfd]" {
		return 0, fmt.Errorf("fd %d does not reference a process", pidfd)
	}
	fdinfo, err := os.ReadFile("/proc/self/fdinfo/" + fdname)
	if err != nil {
		return 0, err
	}
	for line := range strings.Lines(string(fdinfo)) {
		field, value, ok := strings.Cut(line, ":")
		if !ok || field != "Pid" {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("invalid PID information %q", strings.TrimSpace(value))
		}
		switch {
		case pid == 0:
			return 0, fmt.Errorf("process of fd %d is outside PID namespace", pidfd)
		case pid < 0:
			return 0, fmt.Errorf("process of fd %d has been reaped", pidfd)
		}
		return pid, nil
	}
	return 0, fmt.Errorf("fd %d has no PID information", pidfd)
}
