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

package nstest

import (
	"github.com/onsi/gomega/gexec"

	. "github.com/onsi/ginkgo/v2" //nolint:staticcheck // ST1001 rule does not apply
	. "github.com/onsi/gomega"    //nolint:staticcheck // ST1001 rule does not apply
)

// Build the binary of the specified main package without cgo, so that the
// binary is able to drop capabilities on all its OS-level threads, and return
// its path. Callers should eventually call [gexec.CleanupBuildArtifacts].
func Build(pkg string) string {
	GinkgoHelper()
	By("building the " + pkg + " binary")
	binary, err := gexec.BuildWithEnvironment(pkg,
		[]string{"CGO_ENABLED=0"},
		"-tags=usergo,netgo")
	Expect(err).NotTo(HaveOccurred(), "cannot build %s binary", pkg)
	return binary
}
