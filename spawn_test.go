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
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/success"
)

var _ = Describe("spawning stage processes", func() {

	var (
		calls int
		name  string
		argv  []string
		attr  *os.ProcAttr
		cfg   *Config
	)

	BeforeEach(func() {
		calls = 0
		Expect(os.Setenv(envPrefix+"STALE", "marker")).To(Succeed())
		DeferCleanup(func() { _ = os.Unsetenv(envPrefix + "STALE") })
		cfg = (&Config{
			LaunchID: "launch-me",
			Start: func(n string, a []string, pa *os.ProcAttr) (*os.Process, error) {
				calls++
				name, argv, attr = n, a, pa
				return os.FindProcess(os.Getpid())
			},
		}).withDefaults()
	})

	It("describes the stages", func() {
		Expect(cfg.descriptor(NamespaceManagerEntry)).To(Equal(Descriptor{
			Role:  NamespaceManagerEntry,
			Stack: DefaultManagerStack,
			Flags: unix.CLONE_NEWPID,
		}))
		Expect(cfg.descriptor(ExecRunnerEntry)).To(Equal(Descriptor{
			Role:  ExecRunnerEntry,
			Stack: DefaultRunnerStack,
		}))
		Expect(cfg.descriptor(NoEntry)).To(BeZero())
	})

	It("re-executes with the command, markers, stdio, and report fd", func() {
		report := Successful(os.Open("/dev/null"))
		defer func() { _ = report.Close() }()

		Expect(cfg.spawn(cfg.descriptor(NamespaceManagerEntry),
			[]string{"echo", "hello", "world"}, report)).To(Equal(os.Getpid()))
		Expect(calls).To(Equal(1))
		Expect(name).To(Equal("/proc/self/exe"))
		Expect(argv).To(HaveExactElements("pidspace-manager", "echo", "hello", "world"))
		Expect(attr.Files).To(HaveExactElements(os.Stdin, os.Stdout, os.Stderr, report))
		Expect(attr.Sys.Cloneflags).To(Equal(uintptr(unix.CLONE_NEWPID)))
		Expect(attr.Env).To(ContainElements(
			envEntry+"=manager",
			envLaunchID+"=launch-me",
			envStack+"="+strconv.FormatUint(uint64(DefaultManagerStack.Aligned()), 10),
			envRunnerStack+"="+strconv.FormatUint(uint64(DefaultRunnerStack), 10),
		))
		Expect(attr.Env).NotTo(ContainElement(HavePrefix(envPrefix + "STALE")))
	})

	It("spawns the exec runner without creating namespaces", func() {
		Expect(cfg.spawn(cfg.descriptor(ExecRunnerEntry), []string{"true"}, nil)).Error().NotTo(HaveOccurred())
		Expect(argv).To(HaveExactElements("pidspace-runner", "true"))
		Expect(attr.Files).To(HaveLen(3))
		Expect(attr.Sys.Cloneflags).To(BeZero())
	})

	It("rejects unsupported namespaces", func() {
		Expect(cfg.spawn(Descriptor{
			Role:  NamespaceManagerEntry,
			Flags: unix.CLONE_NEWPID | unix.CLONE_NEWNET,
		}, []string{"true"}, nil)).Error().To(MatchError(ContainSubstring("unsupported clone flags 0x40000000")))
		Expect(calls).To(BeZero())
	})

	It("rejects spawning without a stage", func() {
		Expect(cfg.spawn(Descriptor{}, []string{"true"}, nil)).Error().To(
			MatchError(ContainSubstring("without a stage entry")))
		Expect(calls).To(BeZero())
	})

	It("passes on process creation errors", func() {
		cfg.Start = func(string, []string, *os.ProcAttr) (*os.Process, error) {
			return nil, &os.PathError{Op: "fork/exec", Path: "/proc/self/exe", Err: unix.EPERM}
		}
		Expect(cfg.spawn(cfg.descriptor(NamespaceManagerEntry), []string{"true"}, nil)).Error().To(
			MatchError(unix.EPERM))
	})

})
