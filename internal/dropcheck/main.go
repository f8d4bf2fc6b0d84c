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

// dropcheck starts several OS-level threads, drops all capabilities, and then
// prints the capability sets and “no new privileges” flag of each thread,
// followed by the verification result.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/thediveo/pidspace/privdrop"
)

// threads is the number of additional OS-level threads to start before
// dropping capabilities.
const threads = 4

func main() {
	runtime.LockOSThread()
	ready := make(chan struct{})
	done := make(chan struct{})
	for range threads {
		go func() {
			runtime.LockOSThread()
			ready <- struct{}{}
			<-done
		}()
	}
	for range threads {
		<-ready
	}

	privdrop.Drop(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	entries, err := os.ReadDir("/proc/self/task")
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		os.Exit(1)
	}
	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		sets, err := privdrop.OfTask(tid)
		if err != nil {
			continue
		}
		fmt.Printf("task %d inh=%s prm=%s eff=%s bnd=%s amb=%s nonewprivs=%s\n",
			tid,
			sets.Inheritable.Hex(), sets.Permitted.Hex(), sets.Effective.Hex(),
			sets.Bounding.Hex(), sets.Ambient.Hex(),
			noNewPrivs(tid))
	}
	if err := privdrop.Verify(); err != nil {
		fmt.Printf("error: %s\n", err.Error())
		os.Exit(1)
	}
	fmt.Println("verified")
	close(done)
}

// noNewPrivs returns the “no new privileges” flag of the specified task.
func noNewPrivs(tid int) string {
	status, err := os.ReadFile("/proc/self/task/" + strconv.Itoa(tid) + "/status")
	if err != nil {
		return "?"
	}
	for line := range strings.Lines(string(status)) {
		if value, ok := strings.CutPrefix(line, "NoNewPrivs:"); ok {
			return strings.TrimSpace(value)
		}
	}
	return "?"
}
