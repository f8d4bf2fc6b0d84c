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

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/thediveo/pidspace"
	"github.com/thediveo/pidspace/report"
)

func usageError(err error) error {
	return &pidspace.StageError{Stage: report.StageUsage, Err: err}
}

func newRootCmd(stdout, stderr *os.File) *cobra.Command {
	var (
		logLevel     string
		managerStack uint64
		runnerStack  uint64
	)
	root := &cobra.Command{
		Use:           "pidspace [flags] <command> [args...]",
		Short:         "Run a command inside a new PID namespace without any capabilities",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return usageError(pidspace.ErrNoCommand)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return usageError(err)
			}
			for _, stack := range []uint64{managerStack, runnerStack} {
				if err := pidspace.StackSize(stack).Validate(); err != nil {
					return usageError(err)
				}
			}
			return pidspace.Launch(args, &pidspace.Config{
				ManagerStack: pidspace.StackSize(managerStack),
				RunnerStack:  pidspace.StackSize(runnerStack),
				Stdout:       stdout,
				Stderr:       stderr,
				LogLevel:     level,
			})
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := root.Flags()
	// everything starting with the command belongs to the command.
	flags.SetInterspersed(false)
	flags.StringVar(&logLevel, "log-level", "warn",
		"log level of all stages: debug, info, warn, or error")
	flags.Uint64Var(&managerStack, "manager-stack", uint64(pidspace.DefaultManagerStack),
		"maximum go routine stack size of the namespace manager in bytes")
	flags.Uint64Var(&runnerStack, "runner-stack", uint64(pidspace.DefaultRunnerStack),
		"maximum go routine stack size of the exec runner in bytes")
	return root
}
