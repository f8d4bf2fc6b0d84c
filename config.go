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
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	petname "github.com/dustinkirkland/golang-petname"
)

// Default stack ceilings of the stages. The exec runner only runs a few lines
// of Go before replacing its image, whereas the namespace manager keeps
// supervising.
const (
	DefaultManagerStack StackSize = 4 << 20
	DefaultRunnerStack  StackSize = 256 << 10
)

// Environment markers passed to re-executed stages.
const (
	envPrefix      = "PIDSPACE_"
	envEntry       = envPrefix + "ENTRY"
	envLaunchID    = envPrefix + "LAUNCH_ID"
	envStack       = envPrefix + "STACK"
	envRunnerStack = envPrefix + "RUNNER_STACK"
	envLogLevel    = envPrefix + "LOG_LEVEL"
)

// StackSize is the maximum size in bytes a single go routine stack of a stage
// process may grow to.
type StackSize uint64

// MaxStackSize returns the largest page-aligned stack size the Go runtime
// accepts as a stack ceiling.
func MaxStackSize() StackSize {
	pagesize := StackSize(os.Getpagesize())
	return StackSize(math.MaxInt) / pagesize * pagesize
}

// Validate returns an error if the stack size exceeds [MaxStackSize].
func (s StackSize) Validate() error {
	if maxsize := MaxStackSize(); s > maxsize {
		return fmt.Errorf("stack size %d exceeds maximum of %d bytes", uint64(s), uint64(maxsize))
	}
	return nil
}

// Aligned returns the stack size rounded up to the next full page, but never
// more than [MaxStackSize].
func (s StackSize) Aligned() StackSize {
	if maxsize := MaxStackSize(); s > maxsize {
		return maxsize
	}
	pagesize := StackSize(os.Getpagesize())
	return (s + pagesize - 1) / pagesize * pagesize
}

// apply the stack ceiling to the calling process; a zero size keeps the Go
// runtime default.
func (s StackSize) apply() {
	if s == 0 {
		return
	}
	debug.SetMaxStack(int(s.Aligned()))
}

// StartFunc creates a new process, with the same semantics as
// [os.StartProcess].
type StartFunc func(name string, argv []string, attr *os.ProcAttr) (*os.Process, error)

// Config configures the launch of a command in a new PID namespace. The zero
// value is a sensible configuration.
type Config struct {
	// Binary to re-execute for the namespace manager and exec runner stages;
	// defaults to "/proc/self/exe".
	Exe string
	// Stack ceilings of the namespace manager and exec runner stages; zero
	// values select the defaults.
	ManagerStack StackSize
	RunnerStack  StackSize
	// Stdio of the stages and thus of the command; defaults to the stdio of
	// the calling process. The launcher reports the PID of the namespace root
	// on Stdout.
	Stdin, Stdout, Stderr *os.File
	// Log level of the stages' logging.
	LogLevel slog.Level
	// Logger overrides the logger otherwise writing text records to Stderr.
	Logger *slog.Logger
	// LaunchID correlates the log records of all stages; a fresh id gets
	// generated if left empty.
	LaunchID string
	// Process-creation primitive; defaults to os.StartProcess.
	Start StartFunc
	// Wait primitive of the child-reaping loop; defaults to unix.Wait4.
	Wait4 WaitFunc
}

// Slog returns the logger to use, creating it on first use.
func (c *Config) Slog() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	var w io.Writer = os.Stderr
	if c.Stderr != nil {
		w = c.Stderr
	}
	c.Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
	return c.Logger
}

// withDefaults returns a copy of the configuration with all unset fields set
// to their defaults.
func (c *Config) withDefaults() *Config {
	var cfg Config
	if c != nil {
		cfg = *c
	}
	cfg.Exe = cmp.Or(cfg.Exe, "/proc/self/exe")
	cfg.ManagerStack = cmp.Or(cfg.ManagerStack, DefaultManagerStack)
	cfg.RunnerStack = cmp.Or(cfg.RunnerStack, DefaultRunnerStack)
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Start == nil {
		cfg.Start = os.StartProcess
	}
	cfg.LaunchID = cmp.Or(cfg.LaunchID, petname.Generate(2, "-"))
	return &cfg
}

// environ returns the environment for a re-executed stage, based on the
// passed environment minus any stale markers.
func (c *Config) environ(env []string, d Descriptor) []string {
	env = withoutMarkers(env)
	return append(env,
		envEntry+"="+d.Role.String(),
		envLaunchID+"="+c.LaunchID,
		envStack+"="+strconv.FormatUint(uint64(d.Stack.Aligned()), 10),
		envRunnerStack+"="+strconv.FormatUint(uint64(c.RunnerStack), 10),
		envLogLevel+"="+c.LogLevel.String(),
	)
}

// configFromEnv returns the configuration handed down to a re-executed stage
// via environment markers.
func configFromEnv(entry Role) *Config {
	cfg := &Config{
		LaunchID: os.Getenv(envLaunchID),
	}
	if stack, err := strconv.ParseUint(os.Getenv(envRunnerStack), 10, 64); err == nil {
		cfg.RunnerStack = StackSize(stack)
	}
	if stack, err := strconv.ParseUint(os.Getenv(envStack), 10, 64); err == nil {
		switch entry {
		case NamespaceManagerEntry:
			cfg.ManagerStack = StackSize(stack)
		case ExecRunnerEntry:
			cfg.RunnerStack = StackSize(stack)
		}
	}
	_ = cfg.LogLevel.UnmarshalText([]byte(os.Getenv(envLogLevel)))
	cfg = cfg.withDefaults()
	cfg.Logger = cfg.Slog().With(
		slog.String("launch-id", cfg.LaunchID),
		slog.String("role", entry.String()))
	return cfg
}

// withoutMarkers returns the passed environment without any pidspace markers.
func withoutMarkers(env []string) []string {
	clean := make([]string, 0, len(env)+4)
	for _, v := range env {
		if strings.HasPrefix(v, envPrefix) {
			continue
		}
		clean = append(clean, v)
	}
	return clean
}
