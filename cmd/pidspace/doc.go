/*
pidspace runs a command inside a new Linux PID namespace, with all
capabilities dropped before the command gets executed.

	pidspace [flags] <command> [args...]

pidspace needs CAP_SYS_ADMIN in order to create the new PID namespace. It
prints the PID of the namespace root process and then waits for all processes
inside the PID namespace to terminate.

Flags must come before the command; everything from the command onwards is
passed on to the command verbatim.

# Exit Status

  - 0: the PID namespace terminated successfully, or pidspace lost track of it
    and left it running detached.
  - 1: a stage failed, such as creating the PID namespace or executing the
    command; the command's own exit status is not passed on.
  - 2: usage error.
*/
package main
