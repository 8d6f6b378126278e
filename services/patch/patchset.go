// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"fmt"

	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

// ChangeRef identifies a reviewable change.
type ChangeRef struct {
	Project string
	Number  int
}

// PatchSetRef identifies one revision of a change. When Revision is zero
// it is read from the patch set ref.
type PatchSetRef struct {
	Number   int
	Revision vcs.ObjectID
}

// PatchSetRefName returns refs/changes/<last two digits>/<change>/<ps>.
func PatchSetRefName(change, patchSet int) string {
	return fmt.Sprintf("refs/changes/%02d/%d/%d", change%100, change, patchSet)
}
