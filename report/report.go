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

package report

import (
	"encoding/gob"
	"strconv"

	"golang.org/x/sys/unix"
)

// Stage identifies a step in the launcher → namespace manager → exec runner
// pipeline.
type Stage uint8

const (
	StageUsage         Stage = iota // no command given
	StageNamespace                  // creating the PID namespace and its manager
	StagePrivilegeDrop              // dropping all capabilities
	StageRunner                     // creating the exec runner
	StageExec                       // replacing the runner's process image
	StageReap                       // reaping children
	StageManager                    // namespace manager terminated abnormally
)

var stageNames = [...]string{
	StageUsage:         "usage",
	StageNamespace:     "namespace creation",
	StagePrivilegeDrop: "privilege drop",
	StageRunner:        "runner creation",
	StageExec:          "exec",
	StageReap:          "reaping",
	StageManager:       "namespace manager",
}

// String returns the human-readable stage name.
func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "stage(" + strconv.Itoa(int(s)) + ")"
}

type (
	FdsEncoder interface{ EncodeFds() (fds []int) }
	FdsDecoder interface{ DecodeFds(fds []int) }
)

// Message is sent by a stage process to its supervisor.
type Message interface{ report() }

// Progress tells the supervisor that a stage has been completed successfully
// by the process with the specified PID (as seen from inside the sender's PID
// namespace).
type Progress struct {
	Stage Stage
	PID   int
}

// Failure tells the supervisor that a stage failed, and why.
type Failure struct {
	Stage  Stage
	Reason string
}

// RunnerStarted tells the launcher that the namespace manager created the exec
// runner. PID is the runner's PID inside the new PID namespace. If PIDFd is
// >0, it is an open PID fd referencing the runner process; the receiver takes
// ownership of it.
type RunnerStarted struct {
	PID   int
	PIDFd int
}

var (
	_ Message = (*Progress)(nil)
	_ Message = (*Failure)(nil)
	_ Message = (*RunnerStarted)(nil)

	_ FdsEncoder = (*RunnerStarted)(nil)
	_ FdsDecoder = (*RunnerStarted)(nil)
)

func (Progress) report()      {}
func (Failure) report()       {}
func (RunnerStarted) report() {}

// EncodeFds returns the PID fd, if any, to be transferred out-of-band and
// zeros the in-band field.
func (r *RunnerStarted) EncodeFds() []int {
	if r.PIDFd <= 0 {
		return nil
	}
	fd := r.PIDFd
	r.PIDFd = 0
	return []int{fd}
}

// DecodeFds puts a received PID fd back into its place, closing any surplus
// fds.
func (r *RunnerStarted) DecodeFds(fds []int) {
	if len(fds) == 0 {
		return
	}
	r.PIDFd = fds[0]
	for _, fd := range fds[1:] {
		_ = unix.Close(fd)
	}
}

// Register the report types so that they can be received as (polymorphous)
// Message interface values.
func init() {
	gob.Register(&Progress{})
	gob.Register(&Failure{})
	gob.Register(&RunnerStarted{})
}
