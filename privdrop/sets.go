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

package privdrop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/thediveo/caps"
	"golang.org/x/sys/unix"
)

// Sets are the capability sets of a task. The effective, permitted, and
// inheritable sets come from capget(2), while the bounding and ambient sets
// come from the task's procfs status, as capget(2) doesn't report them.
type Sets struct {
	caps.TaskCapabilities
	Bounding caps.CapabilitiesSet
	Ambient  caps.CapabilitiesSet
}

// Current returns the capability sets of the calling task.
func Current() (Sets, error) {
	return ofTask(0)
}

// OfTask returns the capability sets of the task with the specified TID,
// which must belong to the calling process.
func OfTask(tid int) (Sets, error) {
	if tid <= 0 {
		return Sets{}, fmt.Errorf("invalid TID %d", tid)
	}
	return ofTask(tid)
}

// ofTask returns the capability sets of the specified task of the calling
// process, or of the calling task itself when tid is 0.
func ofTask(tid int) (Sets, error) {
	taskcaps, err := caps.OfTask(tid)
	if err != nil {
		return Sets{}, err
	}
	statusPath := "/proc/thread-self/status"
	if tid != 0 {
		statusPath = "/proc/self/task/" + strconv.Itoa(tid) + "/status"
	}
	status, err := os.ReadFile(statusPath)
	if err != nil {
		return Sets{}, err
	}
	bounding, ambient, err := parseStatus(string(status))
	if err != nil {
		return Sets{}, err
	}
	return Sets{
		TaskCapabilities: taskcaps,
		Bounding:         bounding,
		Ambient:          ambient,
	}, nil
}

// Retains returns true if any of the permitted, effective, or ambient sets is
// non-empty.
func (s Sets) Retains() bool {
	return !isEmpty(s.Permitted) || !isEmpty(s.Effective) || !isEmpty(s.Ambient)
}

func isEmpty(set caps.CapabilitiesSet) bool {
	for _, word := range set {
		if word != 0 {
			return false
		}
	}
	return true
}

// Verify returns an error if any task (thread) of the calling process still
// has any permitted, effective, or ambient capabilities.
func Verify() error {
	tids, err := tasks()
	if err != nil {
		return fmt.Errorf("cannot determine tasks, reason: %w", err)
	}
	for _, tid := range tids {
		sets, err := OfTask(tid)
		if err != nil {
			// the task has terminated in the meantime.
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ESRCH) {
				continue
			}
			return fmt.Errorf("cannot determine capabilities of task %d, reason: %w", tid, err)
		}
		if sets.Retains() {
			return fmt.Errorf("capabilities retained by task %d: permitted=%s, effective=%s, ambient=%s",
				tid, sets.Permitted.Hex(), sets.Effective.Hex(), sets.Ambient.Hex())
		}
	}
	return nil
}

// tasks returns the TIDs of the tasks of the calling process.
func tasks() ([]int, error) {
	entries, err := os.ReadDir("/proc/self/task")
	if err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(entries))
	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}

// parseStatus returns the bounding and ambient sets from the passed procfs
// task status.
func parseStatus(status string) (bounding, ambient caps.CapabilitiesSet, err error) {
	for line := range strings.Lines(status) {
		name, value, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		var set *caps.CapabilitiesSet
		switch name {
		case "CapBnd:":
			set = &bounding
		case "CapAmb:":
			set = &ambient
		default:
			continue
		}
		value = strings.TrimSpace(value)
		*set, err = caps.CapabilitiesFromHex(value)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid %s capabilities %q", strings.TrimSuffix(name, ":"), value)
		}
	}
	if bounding == nil {
		return nil, nil, errors.New("incomplete capabilities status")
	}
	// CapAmb is missing on pre-4.3 kernels.
	if ambient == nil {
		ambient = caps.CapabilitiesSet{}
	}
	return bounding, ambient, nil
}
