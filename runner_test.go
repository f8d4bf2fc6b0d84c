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
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/thediveo/pidspace/report"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gleak"
	. "github.com/thediveo/fdooze"
	. "github.com/thediveo/success"
)

var _ = Describe("exec runner", func() {

	var (
		mgr   *report.Conn
		run   *runner
		execs int
		path  string
		argv  []string
		env   []string
	)

	BeforeEach(func() {
		goodfds := Filedescriptors()
		goodgos := Goroutines()
		DeferCleanup(func() {
			Eventually(Goroutines).Within(2 * time.Second).ProbeEvery(100 * time.Millisecond).
				ShouldNot(HaveLeaked(goodgos))
			Expect(Filedescriptors()).NotTo(HaveLeakedFds(goodfds))
		})

		var up *report.Conn
		mgr, up = Successful2R(report.NewPair())
		DeferCleanup(func() {
			_ = mgr.Close()
			_ = up.Close()
		})
		execs = 0
		run = &runner{
			log: slog.Default(),
			lookPath: func(file string) (string, error) {
				return "/usr/bin/" + file, nil
			},
			verify: func() error { return nil },
			exec: func(argv0 string, a []string, e []string) error {
				execs++
				path, argv, env = argv0, a, e
				return unix.ENOEXEC
			},
			conn: func() (*report.Conn, error) { return up, nil },
		}
	})

	It("executes the command with its arguments verbatim", func() {
		Expect(os.Setenv(envEntry, "runner")).To(Succeed())
		DeferCleanup(os.Unsetenv, envEntry)

		Expect(run.run([]string{"echo", "hello", "world"})).To(Equal(126))
		Expect(execs).To(Equal(1))
		Expect(path).To(Equal("/usr/bin/echo"))
		Expect(argv).To(HaveExactElements("echo", "hello", "world"))
		Expect(env).NotTo(BeEmpty())
		Expect(env).NotTo(ContainElement(HavePrefix(envPrefix)))
		Expect(drain(mgr)).To(HaveExactElements(
			Equal(&report.Progress{Stage: report.StageRunner, PID: os.Getpid()}),
			And(HaveField("Stage", report.StageExec),
				HaveField("Reason", ContainSubstring("exec format error"))),
		))
	})

	It("fails with not found status", func() {
		run.exec = func(string, []string, []string) error { return unix.ENOENT }
		Expect(run.run([]string{"gone"})).To(Equal(127))
	})

	It("fails when the executable cannot be found", func() {
		run.lookPath = exec.LookPath
		Expect(run.run([]string{"/nonexisting/nada"})).To(Equal(127))
		Expect(execs).To(BeZero())
		Expect(drain(mgr)).To(HaveExactElements(
			And(HaveField("Stage", report.StageExec),
				HaveField("Reason", ContainSubstring(`cannot find executable "/nonexisting/nada"`))),
		))
	})

	It("fails without a command", func() {
		Expect(run.run(nil)).To(Equal(127))
		Expect(drain(mgr)).To(HaveExactElements(
			HaveField("Reason", ErrNoCommand.Error())))
	})

	It("refuses to execute with retained capabilities", func() {
		run.verify = func() error { return errors.New("capabilities retained") }
		Expect(func() { run.run([]string{"true"}) }).To(
			PanicWith(ContainSubstring("refusing to execute")))
		Expect(execs).To(BeZero())
	})

	It("panics when returning from a successful exec", func() {
		run.exec = func(string, []string, []string) error { return nil }
		Expect(func() { run.run([]string{"true"}) }).To(
			PanicWith(ContainSubstring("returned from successfully executing")))
	})

	It("gives up without a namespace manager connection", func() {
		run.conn = func() (*report.Conn, error) { return nil, unix.EBADF }
		Expect(run.run([]string{"true"})).To(Equal(1))
		Expect(execs).To(BeZero())
	})

})
