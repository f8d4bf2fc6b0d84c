/*
Package report defines the stage reports that the individual pidspace
processes send upwards to their supervisors, as well as the connection these
reports travel on.

Reports are exchanged using the [gob] encoding/decoding scheme over a
connected unix domain socket pair of type SOCK_SEQPACKET, so message
boundaries are kept intact even when a stage fires off several reports in a
row. Open file descriptors, such as PID fds, can be piggybacked onto a report
as auxiliary data.

The supervising side holds one end of a socket pair, the supervised child
receives the other end as its file descriptor 3. As the child's end of the
connection is close-on-exec, a supervisor receiving [io.EOF] without any
preceding [Failure] knows that the child either successfully replaced its
process image or terminated.
*/
package report
