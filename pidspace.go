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
	"runtime"
)

// Capabilities are per task, so dropping them and then creating the exec
// runner must happen on the same OS-level thread.
func init() {
	runtime.LockOSThread()
}

// reportFd is the file descriptor number over which a re-executed stage
// reports to its supervisor.
const reportFd = 3

// Role identifies the stage a re-executed binary runs as. The zero value
// NoEntry is the launcher, that is, the regular program.
type Role int

const (
	NoEntry Role = iota
	NamespaceManagerEntry
	ExecRunnerEntry
)

// String returns the name of the role, as used in logging and the
// environment marker.
func (e Role) String() string {
	switch e {
	case NamespaceManagerEntry:
		return "manager"
	case ExecRunnerEntry:
		return "runner"
	}
	return "launcher"
}

// entryFromEnv returns the stage entry requested by the environment marker of
// the current process, if any.
func entryFromEnv() Role {
	switch os.Getenv(envEntry) {
	case NamespaceManagerEntry.String():
		return NamespaceManagerEntry
	case ExecRunnerEntry.String():
		return ExecRunnerEntry
	}
	return NoEntry
}

// Run the stage for the passed command, returning the stage process's exit
// status. Run panics when called on NoEntry.
func (e Role) Run(cfg *Config, command []string) int {
	switch e {
	case NamespaceManagerEntry:
		return newManager(cfg).run(command)
	case ExecRunnerEntry:
		return newRunner(cfg).run(command)
	}
	panic("pidspace: no stage to run for role " + e.String())
}

// Main runs the stage the current process was re-executed for and then exits;
// otherwise, it returns without doing anything. Main must be called first
// thing in a program's main function, before any command line parsing.
func Main() {
	entry := entryFromEnv()
	if entry == NoEntry {
		return
	}
	cfg := configFromEnv(entry)
	cfg.descriptor(entry).Stack.apply()
	os.Exit(entry.Run(cfg, os.Args[1:]))
}
