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
	"bytes"
	"encoding/gob"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	blocksize = 8192
	maxfds    = 4
	// maxReason is the maximum length in bytes of a failure reason sent, so
	// that an encoded report including its type information fits into a
	// single receive block.
	maxReason = blocksize / 2
)

// Conn is one end of a report connection: a SOCK_SEQPACKET unix domain socket
// that carries gob-encoded reports together with open file descriptors.
//
// A Conn must not be used concurrently for sending, nor for receiving.
type Conn struct {
	uc *net.UnixConn

	encbuff bytes.Buffer
	enc     *gob.Encoder

	decbuff []byte
	decr    *bytes.Reader
	dec     *gob.Decoder
}

// NewPair returns a pair of connected report connections. Both ends are
// close-on-exec; use [Conn.File] to pass an end on to a child process.
func NewPair() (dupond, dupont *Conn, err error) {
	fdpair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}
	dupond, err = NewConn(fdpair[0], "dupond")
	if err != nil {
		_ = unix.Close(fdpair[1])
		return nil, nil, err
	}
	dupont, err = NewConn(fdpair[1], "dupont")
	if err != nil {
		_ = dupond.Close()
		return nil, nil, err
	}
	return dupond, dupont, nil
}

// NewConn returns a report connection for the passed unix domain socket fd.
//
// NewConn always takes ownership of the passed file descriptor and closes it,
// even in case of error. The returned connection uses a close-on-exec
// duplicate of the fd, so a process replacing its image automatically
// disconnects.
func NewConn(fd int, nickname string) (*Conn, error) {
	f := os.NewFile(uintptr(fd), nickname)
	if f == nil {
		return nil, errors.New("not a file descriptor")
	}
	defer func() { _ = f.Close() }()
	netconn, err := net.FileConn(f)
	if err != nil {
		return nil, err
	}
	uc, ok := netconn.(*net.UnixConn)
	if !ok {
		_ = netconn.Close()
		return nil, errors.New("not a unix domain socket")
	}
	c := &Conn{
		uc:      uc,
		decbuff: make([]byte, blocksize),
	}
	c.encbuff.Grow(blocksize)
	c.enc = gob.NewEncoder(&c.encbuff)
	c.decr = bytes.NewReader(c.decbuff)
	c.dec = gob.NewDecoder(c.decr)
	return c, nil
}

// File returns a duplicate of the connection's socket as an *os.File, suitable
// for handing to a child process. The caller is responsible for closing the
// returned file.
func (c *Conn) File() (*os.File, error) {
	return c.uc.File()
}

// SetReadDeadline sets the deadline for future Receive calls.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.uc.SetReadDeadline(t)
}

// Close the connection.
func (c *Conn) Close() error {
	return c.uc.Close()
}

// Send the passed report, including any file descriptors the report carries.
// Send always closes the carried file descriptors: after a successful send the
// kernel has them in transit, otherwise they would leak.
func (c *Conn) Send(r Message) error {
	var fds []int
	if fdsenc, ok := r.(FdsEncoder); ok {
		fds = fdsenc.EncodeFds()
	}
	defer func() {
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
	}()

	if f, ok := r.(*Failure); ok && len(f.Reason) > maxReason {
		r = &Failure{Stage: f.Stage, Reason: truncate(f.Reason)}
	}

	c.encbuff.Reset()
	// pass a pointer to the interface, see also the gob "interface" example,
	// https://pkg.go.dev/encoding/gob#example-package-Interface
	if err := c.enc.Encode(&r); err != nil {
		return err
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	_, _, err := c.uc.WriteMsgUnix(c.encbuff.Bytes(), oob, nil)
	return err
}

// Receive the next report. Receive returns [io.EOF] when the peer has closed
// its end of the connection, including implicitly by terminating or replacing
// its process image.
func (c *Conn) Receive() (Message, error) {
	oob := make([]byte, unix.CmsgSpace(maxfds*4))
	n, noob, flags, _, err := c.uc.ReadMsgUnix(c.decbuff, oob)
	if err != nil {
		return nil, err
	}
	if n == 0 && noob == 0 {
		return nil, io.EOF
	}
	fds, err := parseRights(oob[:noob])
	if err != nil {
		return nil, err
	}
	if flags&unix.MSG_TRUNC != 0 {
		closeAll(fds)
		return nil, errors.New("truncated report")
	}
	var r Message
	c.decr.Reset(c.decbuff[:n])
	if err := c.dec.Decode(&r); err != nil {
		closeAll(fds)
		return nil, err
	}
	if fdsdec, ok := r.(FdsDecoder); ok {
		fdsdec.DecodeFds(fds)
	} else {
		closeAll(fds)
	}
	return r, nil
}

// parseRights returns the file descriptors from the SCM_RIGHTS control message
// in oob, if any.
func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	cms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	for _, cm := range cms {
		if cm.Header.Level != unix.SOL_SOCKET || cm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		return unix.ParseUnixRights(&cm)
	}
	return nil, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

// truncate the passed failure reason to at most maxReason bytes, without
// splitting a multi-byte UTF-8 character.
func truncate(reason string) string {
	const ellipsis = "…"
	return strings.ToValidUTF8(reason[:maxReason-len(ellipsis)], "") + ellipsis
}
