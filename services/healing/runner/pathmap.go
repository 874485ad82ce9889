// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"path/filepath"
	"strings"
)

// PathMapping translates workspace paths between the filesystem this
// process sees and the Docker host's filesystem.
//
// When the service itself runs in a container with the workspace root
// bind-mounted from the host, a sibling test container must be given the
// host-side path. A zero PathMapping is the identity.
type PathMapping struct {
	// LocalRoot is the root as seen by this process, e.g. /app.
	LocalRoot string `yaml:"local_root" json:"local_root"`

	// HostRoot is the same directory as seen by the Docker daemon.
	HostRoot string `yaml:"host_root" json:"host_root"`
}

// IsIdentity reports whether the mapping leaves every path unchanged.
func (m PathMapping) IsIdentity() bool {
	return m.LocalRoot == "" || m.HostRoot == "" || filepath.Clean(m.LocalRoot) == filepath.Clean(m.HostRoot)
}

// ToHost maps a local path to its host-side equivalent. Paths outside
// LocalRoot are returned cleaned but otherwise unchanged.
func (m PathMapping) ToHost(local string) string {
	return rebase(local, m.LocalRoot, m.HostRoot, m.IsIdentity())
}

// ToLocal is the inverse of ToHost.
func (m PathMapping) ToLocal(host string) string {
	return rebase(host, m.HostRoot, m.LocalRoot, m.IsIdentity())
}

func rebase(path, from, to string, identity bool) string {
	path = filepath.Clean(path)
	if identity {
		return path
	}
	from = filepath.Clean(from)
	rel, err := filepath.Rel(from, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.Join(filepath.Clean(to), rel)
}
