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
	"log/slog"
	"strconv"

	"golang.org/x/sys/unix"
)

// WaitFunc waits for a child state change, with the same semantics as
// [unix.Wait4].
type WaitFunc func(pid int, wstatus *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error)

// Reaper reaps all children of the calling process, including orphans
// re-parented to it.
type Reaper struct {
	Wait4 WaitFunc     // defaults to unix.Wait4
	Log   *slog.Logger // defaults to slog.Default()
}

// Outcome of reaping all children. Only the status of the leader child is
// kept; the statuses of all other children get discarded.
type Outcome struct {
	Leader       int
	LeaderReaped bool
	Status       unix.WaitStatus
	Reaped       int // number of children reaped, including the leader
}

// Succeeded returns true if the leader child was reaped and had exited with
// status 0.
func (o Outcome) Succeeded() bool {
	return o.LeaderReaped && o.Status.Exited() && o.Status.ExitStatus() == 0
}

func (o Outcome) String() string {
	switch {
	case !o.LeaderReaped:
		return "PID " + strconv.Itoa(o.Leader) + " not reaped"
	case o.Status.Exited():
		return "exit status " + strconv.Itoa(o.Status.ExitStatus())
	case o.Status.Signaled():
		return "signal: " + o.Status.Signal().String()
	}
	return "wait status " + strconv.FormatUint(uint64(o.Status), 10)
}

// Reap waits for all children to terminate, until there are no children left.
// Interrupted and temporarily failing waits are simply retried. Reap returns
// an error only if waiting fails for any other reason, in which case there
// might still be children running.
func (r *Reaper) Reap(leader int) (Outcome, error) {
	wait4 := r.Wait4
	if wait4 == nil {
		wait4 = unix.Wait4
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	outcome := Outcome{Leader: leader}
	for {
		var ws unix.WaitStatus
		pid, err := wait4(-1, &ws, 0, nil)
		switch {
		case err == nil:
			outcome.Reaped++
			if pid == leader {
				outcome.LeaderReaped = true
				outcome.Status = ws
			}
			log.Debug("reaped child",
				slog.Int("pid", pid),
				slog.Bool("leader", pid == leader))
		case errors.Is(err, unix.ECHILD):
			log.Debug("no children left",
				slog.Int("reaped", outcome.Reaped))
			return outcome, nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
			continue
		default:
			return outcome, fmt.Errorf("cannot reap children, reason: %w", err)
		}
	}
}
