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
	"os"
	"os/exec"

	"github.com/thediveo/pidspace/privdrop"
	"github.com/thediveo/pidspace/report"
	"golang.org/x/sys/unix"
)

// Exit statuses of a failed exec runner, following shell conventions.
const (
	statusNotFound      = 127
	statusNotExecutable = 126
)

// runner replaces itself with the command to run.
type runner struct {
	log      *slog.Logger
	lookPath func(file string) (string, error)
	verify   func() error
	exec     func(argv0 string, argv []string, envv []string) error
	conn     func() (*report.Conn, error)
}

func newRunner(cfg *Config) *runner {
	return &runner{
		log:      cfg.Slog(),
		lookPath: exec.LookPath,
		verify:   privdrop.Verify,
		exec:     unix.Exec,
		conn:     func() (*report.Conn, error) { return report.NewConn(reportFd, "manager") },
	}
}

// run the exec runner stage, replacing the current process image with the
// passed command. run only returns in case of failure, with the exit status
// of the exec runner.
func (r *runner) run(command []string) int {
	up, err := r.conn()
	if err != nil {
		r.log.Error("cannot connect to namespace manager",
			slog.String("err", err.Error()))
		return 1
	}
	defer func() { _ = up.Close() }()

	if len(command) == 0 {
		return r.fail(up, ErrNoCommand, statusNotFound)
	}
	path, err := r.lookPath(command[0])
	if err != nil {
		return r.fail(up, fmt.Errorf("cannot find executable %q, reason: %w", command[0], err),
			statusNotFound)
	}
	if err := r.verify(); err != nil {
		panic(fmt.Sprintf("refusing to execute %q, reason: %s", path, err.Error()))
	}
	_ = up.Send(&report.Progress{Stage: report.StageRunner, PID: os.Getpid()})
	r.log.Debug("executing command",
		slog.String("path", path),
		slog.Any("argv", command))
	err = r.exec(path, command, withoutMarkers(os.Environ()))
	if err == nil {
		panic(fmt.Sprintf("returned from successfully executing %q", path))
	}
	status := statusNotExecutable
	if errors.Is(err, unix.ENOENT) {
		status = statusNotFound
	}
	return r.fail(up, fmt.Errorf("cannot execute %q, reason: %w", path, err), status)
}

func (r *runner) fail(up *report.Conn, err error, status int) int {
	r.log.Error("cannot run command", slog.String("err", err.Error()))
	_ = up.Send(&report.Failure{Stage: report.StageExec, Reason: err.Error()})
	return status
}
