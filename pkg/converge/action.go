// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package converge computes and applies the actions that move the registry
// towards the desired pipelines.
package converge

import (
	"fmt"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/pipeline"
)

// Kind names an action variant. It is used as a metric and log label.
type Kind string

const (
	KindCreate       Kind = "create"
	KindReload       Kind = "reload"
	KindStop         Kind = "stop"
	KindRejectReload Kind = "reject_reload"
)

// Action is one of Create, Reload, Stop or RejectReload. The set is closed:
// the unexported method keeps other packages from adding variants.
type Action interface {
	Kind() Kind
	PipelineID() string
	fmt.Stringer
	isAction()
}

// Create starts a pipeline that is not in the registry.
type Create struct {
	Config pipeline.Config
}

// Reload replaces a running pipeline whose fingerprint changed.
type Reload struct {
	Config pipeline.Config
}

// Stop removes a pipeline that is no longer desired.
type Stop struct {
	ID string
}

// RejectReload reports a changed fingerprint on a pipeline that may not be
// reloaded. Executing it leaves the registry untouched and always fails.
type RejectReload struct {
	Config             pipeline.Config
	RunningFingerprint string
}

func (Create) Kind() Kind       { return KindCreate }
func (Reload) Kind() Kind       { return KindReload }
func (Stop) Kind() Kind         { return KindStop }
func (RejectReload) Kind() Kind { return KindRejectReload }

func (a Create) PipelineID() string       { return a.Config.ID }
func (a Reload) PipelineID() string       { return a.Config.ID }
func (a Stop) PipelineID() string         { return a.ID }
func (a RejectReload) PipelineID() string { return a.Config.ID }

func (a Create) String() string {
	return fmt.Sprintf("Create(%s@%s)", a.Config.ID, a.Config.Fingerprint)
}

func (a Reload) String() string {
	return fmt.Sprintf("Reload(%s@%s)", a.Config.ID, a.Config.Fingerprint)
}

func (a Stop) String() string {
	return fmt.Sprintf("Stop(%s)", a.ID)
}

func (a RejectReload) String() string {
	return fmt.Sprintf("RejectReload(%s@%s)", a.Config.ID, a.Config.Fingerprint)
}

func (Create) isAction()       {}
func (Reload) isAction()       {}
func (Stop) isAction()         {}
func (RejectReload) isAction() {}
