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
	"io"
	"log/slog"
	"net"

	"github.com/thediveo/pidspace/report"
	"golang.org/x/sys/unix"
)

// Launch runs the passed command inside a new PID namespace and waits for the
// namespace to terminate. The first element of command is the executable to
// run; it is looked up in PATH unless it contains a slash. All other elements
// become the executable's arguments, with argv[0] being command[0] verbatim.
//
// Launch requires CAP_SYS_ADMIN for creating the new PID namespace. The
// namespace root process drops all capabilities before the command gets run.
//
// Launch returns a [*StageError] naming the stage that failed. If Launch
// cannot wait for the PID namespace any longer, it returns an error wrapping
// [ErrDetached]; the namespace might be still running in this case.
func Launch(command []string, cfg *Config) error {
	if len(command) == 0 {
		return &StageError{Stage: report.StageUsage, Err: ErrNoCommand}
	}
	cfg = cfg.withDefaults()
	for _, stack := range []StackSize{cfg.ManagerStack, cfg.RunnerStack} {
		if err := stack.Validate(); err != nil {
			return &StageError{Stage: report.StageUsage, Err: err}
		}
	}
	log := cfg.Slog().With(
		slog.String("launch-id", cfg.LaunchID),
		slog.String("role", NoEntry.String()))

	dupond, dupont, err := report.NewPair()
	if err != nil {
		return &StageError{
			Stage: report.StageNamespace,
			Err:   fmt.Errorf("cannot create report connection, reason: %w", err),
		}
	}
	defer func() { _ = dupond.Close() }()
	dupontf, err := dupont.File()
	_ = dupont.Close()
	if err != nil {
		return &StageError{
			Stage: report.StageNamespace,
			Err:   fmt.Errorf("cannot fetch report connection *os.File, reason: %w", err),
		}
	}
	pid, err := cfg.spawn(cfg.descriptor(NamespaceManagerEntry), command, dupontf)
	_ = dupontf.Close()
	if err != nil {
		log.Error("cannot create PID namespace",
			slog.String("err", err.Error()))
		return &StageError{Stage: report.StageNamespace, Err: err}
	}
	_, _ = fmt.Fprintf(cfg.Stdout, "PID namespace root is at %d\n", pid)
	log.Info("namespace manager started", slog.Int("pid", pid))

	failures := make(chan *report.Failure, 1)
	go func() {
		failures <- collect(log, dupond)
	}()

	outcome, err := (&Reaper{Wait4: cfg.Wait4, Log: log}).Reap(pid)
	if err != nil {
		log.Warn("leaving PID namespace detached",
			slog.Int("pid", pid),
			slog.String("err", err.Error()))
		// the namespace manager might be still alive, so unblock the
		// collector.
		_ = dupond.Close()
		<-failures
		return fmt.Errorf("%w, reason: %w", ErrDetached, err)
	}
	failure := <-failures
	if outcome.Succeeded() {
		log.Info("PID namespace terminated",
			slog.Int("reaped", outcome.Reaped))
		return nil
	}
	log.Error("namespace manager failed",
		slog.Int("pid", pid),
		slog.String("status", outcome.String()))
	if failure != nil {
		return &StageError{Stage: failure.Stage, Err: errors.New(failure.Reason)}
	}
	return &StageError{Stage: report.StageManager, Err: errors.New(outcome.String())}
}

// collect logs the stage reports received from the namespace manager until
// the manager disconnects, returning the last failure reported, if any.
func collect(log *slog.Logger, conn *report.Conn) *report.Failure {
	var failure *report.Failure
	for {
		r, err := conn.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn("cannot receive stage report",
					slog.String("err", err.Error()))
			}
			return failure
		}
		switch r := r.(type) {
		case *report.Progress:
			log.Info("stage completed",
				slog.String("stage", r.Stage.String()),
				slog.Int("pid", r.PID))
		case *report.RunnerStarted:
			attrs := []any{slog.Int("pid", r.PID)}
			if r.PIDFd > 0 {
				if hostpid, err := HostPID(r.PIDFd); err == nil {
					attrs = append(attrs, slog.Int("host-pid", hostpid))
				}
				_ = unix.Close(r.PIDFd)
			}
			log.Info("exec runner started", attrs...)
		case *report.Failure:
			log.Error("stage failed",
				slog.String("stage", r.Stage.String()),
				slog.String("err", r.Reason))
			failure = r
		}
	}
}
