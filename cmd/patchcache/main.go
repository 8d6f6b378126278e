// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command patchcache computes and caches the diffs of git repositories.
//
// Repositories are opened under repositories.base_path of the config file
// named by --config or PATCHCACHE_CONFIG. A project "tools/gerrit" maps to
// <base_path>/tools/gerrit.git or <base_path>/tools/gerrit.
//
// Usage:
//
//	patchcache diff tools/gerrit 3f2a9c1 --patch
//	patchcache diff tools/gerrit --change 1234 --patchset 2
//	patchcache summary tools/gerrit refs/heads/main
//	patchcache intraline tools/gerrit 3f2a9c1 src/Main.java
//	patchcache automerge tools/gerrit 9be01d4 --dry-run
//	patchcache serve
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
