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

package nstest

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/fdooze"
	. "github.com/thediveo/success"
)

var _ = Describe("namespace identification", func() {

	BeforeEach(func() {
		goodfds := Filedescriptors()
		DeferCleanup(func() {
			Expect(Filedescriptors()).NotTo(HaveLeakedFds(goodfds))
		})
	})

	DescribeTable("type names",
		func(typ int, expected string) {
			Expect(Name(typ)).To(Equal(expected))
		},
		Entry(nil, 0, ""),
		Entry(nil, unix.CLONE_NEWCGROUP, "cgroup"),
		Entry(nil, unix.CLONE_NEWIPC, "ipc"),
		Entry(nil, unix.CLONE_NEWNS, "mnt"),
		Entry(nil, unix.CLONE_NEWNET, "net"),
		Entry(nil, unix.CLONE_NEWPID, "pid"),
		Entry(nil, unix.CLONE_NEWTIME, "time"),
		Entry(nil, unix.CLONE_NEWUSER, "user"),
		Entry(nil, unix.CLONE_NEWUTS, "uts"),
	)

	It("identifies the current PID namespace by path and fd", func() {
		Expect(Type("/proc/self/ns/pid")).To(Equal(unix.CLONE_NEWPID))

		fd := Successful(unix.Open("/proc/self/ns/pid", unix.O_RDONLY, 0))
		defer func() { _ = unix.Close(fd) }()
		Expect(Type(fd)).To(Equal(unix.CLONE_NEWPID))
		Expect(Ino(fd, unix.CLONE_NEWPID)).To(Equal(CurrentIno(unix.CLONE_NEWPID)))
	})

	It("identifies namespaces from their links", func() {
		link := Successful(os.Readlink("/proc/self/ns/pid"))
		Expect(InoFromLink(link, unix.CLONE_NEWPID)).To(Equal(CurrentIno(unix.CLONE_NEWPID)))
		Expect(InoFromLink("pid:[42]\n", unix.CLONE_NEWPID)).To(Equal(uint64(42)))
	})

	It("fails for invalid references", func() {
		Expect(InterceptGomegaFailure(func() {
			_ = Type(-1)
		})).To(MatchError(ContainSubstring("cannot determine type of namespace")))
		Expect(InterceptGomegaFailure(func() {
			_ = Ino("/proc/self/ns/pid", unix.CLONE_NEWNET)
		})).To(MatchError(ContainSubstring("not a net namespace")))
		Expect(InterceptGomegaFailure(func() {
			_ = Type("/nonexisting/" + strconv.Itoa(os.Getpid()))
		})).To(MatchError(ContainSubstring("cannot determine type of namespace referenced as")))
	})

	It("fails for invalid links", func() {
		Expect(InterceptGomegaFailure(func() {
			_ = InoFromLink("pid:[42", unix.CLONE_NEWPID)
		})).To(MatchError(ContainSubstring("invalid namespace link")))
		Expect(InterceptGomegaFailure(func() {
			_ = InoFromLink("net:[42]", unix.CLONE_NEWPID)
		})).To(MatchError(ContainSubstring("not a pid namespace link")))
		Expect(InterceptGomegaFailure(func() {
			_ = InoFromLink("pid:[x42]", unix.CLONE_NEWPID)
		})).To(MatchError(ContainSubstring("invalid namespace identification")))
	})

})
