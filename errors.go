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
	"errors"

	"github.com/thediveo/pidspace/report"
)

var (
	// ErrNoCommand signals that no command to launch was given.
	ErrNoCommand = errors.New("no command given")
	// ErrDetached signals that the launcher lost track of the PID namespace,
	// which might still be running.
	ErrDetached = errors.New("PID namespace left running detached")
)

// StageError is a failure in a particular stage of launching a command.
type StageError struct {
	Stage report.Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage.String() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }
