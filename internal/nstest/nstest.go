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

/*
Package nstest helps tests to identify and compare Linux kernel namespaces,
especially PID namespaces of launched processes.
*/
package nstest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thediveo/ioctl"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2" //nolint:staticcheck // ST1001 rule does not apply
	. "github.com/onsi/gomega"    //nolint:staticcheck // ST1001 rule does not apply
)

// Reference is a Linux kernel namespace reference in VFS path textual form or
// as an open file descriptor.
type Reference interface{ ~int | ~string }

// Linux kernel [ioctl(2)] command for [namespace relationship queries].
//
// [ioctl(2)]: https://man7.org/linux/man-pages/man2/ioctl.2.html
// [namespace relationship queries]: https://elixir.bootlin.com/linux/v6.2.11/source/include/uapi/linux/nsfs.h
const _NSIO = 0xb7

// Returns the type of namespace CLONE_NEW* value referred to by a file
// descriptor.
var NS_GET_NSTYPE = ioctl.IO(_NSIO, 0x3)

var names = map[int]string{
	unix.CLONE_NEWCGROUP: "cgroup",
	unix.CLONE_NEWIPC:    "ipc",
	unix.CLONE_NEWNS:     "mnt",
	unix.CLONE_NEWNET:    "net",
	unix.CLONE_NEWPID:    "pid",
	unix.CLONE_NEWTIME:   "time",
	unix.CLONE_NEWUSER:   "user",
	unix.CLONE_NEWUTS:    "uts",
}

// Name returns the procfs name of the passed type of namespace, or "" if the
// type is unknown.
func Name(typ int) string {
	return names[typ]
}

// Type returns the type constant for the Linux kernel namespace referenced
// either by a file descriptor or a VFS path name.
//
// If the specified reference is invalid, Type fails the current test.
func Type[R Reference](ref R) int {
	GinkgoHelper()

	fd, ok := any(ref).(int)
	if !ok {
		var err error
		fd, err = unix.Open(fmt.Sprint(ref), unix.O_RDONLY, 0)
		Expect(err).NotTo(HaveOccurred(),
			"cannot determine type of namespace referenced as %q", ref)
		defer func() { _ = unix.Close(fd) }()
	}
	typ, err := unix.IoctlRetInt(fd, NS_GET_NSTYPE)
	Expect(err).NotTo(HaveOccurred(),
		"cannot determine type of namespace %v", ref)
	return typ
}

// Ino returns the identification (inode number) of the passed Linux kernel
// namespace that is either referenced by a file descriptor or a VFS path name.
//
// If the specified reference is invalid or doesn't match the passed type of
// namespace, Ino fails the current test.
func Ino[R Reference](ref R, typ int) uint64 {
	GinkgoHelper()

	var stat unix.Stat_t
	switch ref := any(ref).(type) {
	case int:
		Expect(unix.Fstat(ref, &stat)).To(Succeed(),
			"cannot stat %s namespace reference %d", Name(typ), ref)
	default:
		Expect(unix.Stat(fmt.Sprint(ref), &stat)).To(Succeed(),
			"cannot stat %s namespace reference %v", Name(typ), ref)
	}
	Expect(Type(ref)).To(Equal(typ),
		"not a %s namespace", Name(typ))
	return stat.Ino
}

// CurrentIno returns the identification (inode number) for the namespace (of
// the specified type) the calling OS-level thread is currently attached to.
func CurrentIno(typ int) uint64 {
	GinkgoHelper()

	return Ino("/proc/thread-self/ns/"+Name(typ), typ)
}

// InoFromLink returns the identification (inode number) of a namespace from
// its textual form as returned by readlink(2) on a procfs namespace link,
// such as “pid:[4026531836]”. The namespace must be of the specified type.
func InoFromLink(link string, typ int) uint64 {
	GinkgoHelper()

	name, ino, ok := strings.Cut(strings.TrimSpace(link), ":[")
	Expect(ok && strings.HasSuffix(ino, "]")).To(BeTrue(),
		"invalid namespace link %q", link)
	Expect(name).To(Equal(Name(typ)),
		"not a %s namespace link %q", Name(typ), link)
	id, err := strconv.ParseUint(strings.TrimSuffix(ino, "]"), 10, 64)
	Expect(err).NotTo(HaveOccurred(),
		"invalid namespace identification in %q", link)
	return id
}
