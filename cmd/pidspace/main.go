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
	"errors"
	"fmt"
	"os"

	"github.com/thediveo/pidspace"
	"github.com/thediveo/pidspace/report"
)

func main() {
	pidspace.Main()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run the pidspace command with the passed arguments, returning the exit
// status.
func run(args []string, stdout, stderr *os.File) int {
	root := newRootCmd(stdout, stderr)
	// cobra falls back to os.Args when passed nil.
	root.SetArgs(append([]string{}, args...))
	err := root.Execute()
	if err != nil && !errors.Is(err, pidspace.ErrDetached) {
		_, _ = fmt.Fprintln(stderr, "pidspace: "+err.Error())
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, pidspace.ErrDetached) {
		return 0
	}
	if stageErr := (*pidspace.StageError)(nil); errors.As(err, &stageErr) && stageErr.Stage == report.StageUsage {
		return 2
	}
	return 1
}
