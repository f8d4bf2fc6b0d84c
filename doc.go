/*
Package pidspace runs an arbitrary program inside a new Linux PID namespace,
dropping all privileges before the program's code gets to run.

The launch happens in three stages, each stage a separate process:

 1. the launcher (the calling process) validates the command to run and then
    creates the namespace manager as a child process inside a new PID
    namespace; this requires CAP_SYS_ADMIN.
 2. the namespace manager runs as PID 1 inside the new PID namespace. It first
    irrevocably drops all its capabilities and then creates the exec runner
    as a plain child process.
 3. the exec runner replaces its process image with the program to run,
    keeping its PID.

Both the launcher and the namespace manager then reap their children until
there are no children left. As PID 1 the namespace manager also reaps any
orphaned processes in the new PID namespace.

# Go Specifics

Go programs are multi-threaded right from their start, so there is no way to
hand a fresh stack and an entry function to clone(2). Instead, the namespace
manager and exec runner stages are run by re-executing the program binary
(“/proc/self/exe”), with an environment marker telling the re-executed binary
which [Role] to run. Programs using pidspace thus must call [Main] first
thing in their main function:

	func main() {
	    pidspace.Main()
	    // ...regular main, ending up calling pidspace.Launch
	}

As capabilities are per thread (task), the namespace manager drops the
capabilities of all its OS-level threads using [syscall.AllThreadsSyscall].
This is unsupported in binaries linked with cgo, so programs using pidspace
must be built with cgo disabled, for instance:

	CGO_ENABLED=0 go build -tags usergo,netgo ./cmd/pidspace

Additionally, this package locks the initial go routine to the initial
OS-level thread, so that the stage processes are always created from the same
thread.

# Stage Reports

The stages report progress and failures upwards over connected unix domain
sockets, see [github.com/thediveo/pidspace/report]. This way, the launcher
can tell which stage failed and for what reason, even if the failure happened
deep inside the new PID namespace.
*/
package pidspace
