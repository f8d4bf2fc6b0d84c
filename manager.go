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
	"os"

	"github.com/thediveo/pidspace/privdrop"
	"github.com/thediveo/pidspace/report"
	"golang.org/x/sys/unix"
)

// manager is the root process of the new PID namespace: it drops all
// capabilities, creates the exec runner, and then reaps all processes in the
// namespace.
type manager struct {
	cfg  *Config
	log  *slog.Logger
	drop func(*slog.Logger)
	conn func() (*report.Conn, error)
}

func newManager(cfg *Config) *manager {
	return &manager{
		cfg:  cfg,
		log:  cfg.Slog(),
		drop: privdrop.Drop,
		conn: func() (*report.Conn, error) { return report.NewConn(reportFd, "launcher") },
	}
}

// run the namespace manager stage for the passed command, returning the exit
// status of the namespace manager.
func (m *manager) run(command []string) int {
	up, err := m.conn()
	if err != nil {
		m.log.Error("cannot connect to launcher",
			slog.String("err", err.Error()))
		return 1
	}
	defer func() { _ = up.Close() }()

	m.dropPrivileges(up)
	m.log.Info("dropped all capabilities", slog.Int("pid", os.Getpid()))
	_ = up.Send(&report.Progress{Stage: report.StagePrivilegeDrop, PID: os.Getpid()})

	dupond, dupont, err := report.NewPair()
	if err != nil {
		return m.fail(up, report.StageRunner, err)
	}
	defer func() { _ = dupond.Close() }()
	dupontf, err := dupont.File()
	_ = dupont.Close()
	if err != nil {
		return m.fail(up, report.StageRunner, err)
	}
	pid, err := m.cfg.spawn(m.cfg.descriptor(ExecRunnerEntry), command, dupontf)
	_ = dupontf.Close()
	if err != nil {
		return m.fail(up, report.StageRunner, err)
	}
	m.log.Info("exec runner started", slog.Int("pid", pid))
	started := &report.RunnerStarted{PID: pid}
	if pidfd, err := unix.PidfdOpen(pid, 0); err == nil {
		started.PIDFd = pidfd
	}
	_ = up.Send(started)

	// the runner's end is close-on-exec, so we see EOF as soon as the runner
	// has been replaced by the command.
	var failure *report.Failure
	ready := false
	for {
		r, err := dupond.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.log.Warn("cannot receive exec runner report",
					slog.String("err", err.Error()))
			}
			break
		}
		switch r := r.(type) {
		case *report.Progress:
			ready = ready || r.Stage == report.StageRunner
		case *report.Failure:
			failure = r
		default:
			continue
		}
		_ = up.Send(r)
	}
	if failure == nil && !ready {
		failure = &report.Failure{
			Stage:  report.StageRunner,
			Reason: "exec runner terminated prematurely",
		}
		_ = up.Send(failure)
	}

	outcome, err := (&Reaper{Wait4: m.cfg.Wait4, Log: m.log}).Reap(pid)
	if err != nil {
		return m.fail(up, report.StageReap, err)
	}
	if failure != nil {
		m.log.Error("exec runner failed",
			slog.Int("pid", pid),
			slog.String("status", outcome.String()))
		return 1
	}
	m.log.Info("all processes reaped",
		slog.Int("reaped", outcome.Reaped),
		slog.String("status", outcome.String()))
	return 0
}

// dropPrivileges drops all capabilities, reporting a failure to the launcher
// before passing on any panic.
func (m *manager) dropPrivileges(up *report.Conn) {
	defer func() {
		if r := recover(); r != nil {
			_ = up.Send(&report.Failure{Stage: report.StagePrivilegeDrop, Reason: fmt.Sprint(r)})
			panic(r)
		}
	}()
	m.drop(m.log)
}

// fail logs and reports a failed stage to the launcher, returning the exit
// status of the namespace manager.
func (m *manager) fail(up *report.Conn, stage report.Stage, err error) int {
	m.log.Error("stage failed",
		slog.String("stage", stage.String()),
		slog.String("err", err.Error()))
	_ = up.Send(&report.Failure{Stage: stage, Reason: err.Error()})
	return 1
}
