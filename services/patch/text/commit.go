// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package text

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/patchcache/services/patch/vcs"
)

const (
	abbrevLen  = 8
	dateLayout = "2006-01-02 15:04:05 -0700"
)

// ForCommit renders the synthetic commit-message file of a commit:
//
//	Parent:     1234abcd (short message of parent)
//	Author:     Name <email>
//	AuthorDate: 2024-01-02 03:04:05 +0000
//	Commit:     Name <email>
//	CommitDate: 2024-01-02 03:04:05 +0000
//
//	<full message>
//
// Merges list their parents under "Merge Of:".
func ForCommit(ctx context.Context, repo vcs.Repository, c *vcs.Commit) (*Text, error) {
	var b strings.Builder

	switch len(c.Parents) {
	case 0:
	case 1:
		b.WriteString("Parent:     ")
		if err := appendCommit(ctx, &b, repo, c.Parents[0]); err != nil {
			return nil, err
		}
	default:
		for i, p := range c.Parents {
			if i == 0 {
				b.WriteString("Merge Of:   ")
			} else {
				b.WriteString("            ")
			}
			if err := appendCommit(ctx, &b, repo, p); err != nil {
				return nil, err
			}
		}
	}

	appendPerson(&b, "Author", c.Author)
	appendPerson(&b, "Commit", c.Committer)
	b.WriteString("\n")
	b.WriteString(c.Message)

	return FromString(b.String()), nil
}

func appendCommit(ctx context.Context, b *strings.Builder, repo vcs.Repository, id vcs.ObjectID) error {
	pc, err := repo.ResolveCommit(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve parent %s: %w", id, err)
	}
	fmt.Fprintf(b, "%s (%s)\n", id.Abbreviate(abbrevLen), pc.ShortMessage())
	return nil
}

func appendPerson(b *strings.Builder, kind string, s vcs.Signature) {
	fmt.Fprintf(b, "%-12s%s <%s>\n", kind+":", s.Name, s.Email)
	fmt.Fprintf(b, "%-12s%s\n", kind+"Date:", s.When.Format(dateLayout))
}

// ForMergeList renders the synthetic merge-list file of a merge commit:
//
//	Merge List:
//
//	* 1234abcd short message
//
// It lists commits reachable from every parent except uninterestingParent
// (1-based) and not reachable from that parent, newest first.
func ForMergeList(ctx context.Context, repo vcs.Repository, merge *vcs.Commit, uninterestingParent int) (*Text, error) {
	if uninterestingParent < 1 || uninterestingParent > len(merge.Parents) {
		return nil, fmt.Errorf("parent %d out of range for %s", uninterestingParent, merge.ID)
	}
	var include []vcs.ObjectID
	for i, p := range merge.Parents {
		if i != uninterestingParent-1 {
			include = append(include, p)
		}
	}
	commits, err := repo.RevList(ctx, include, []vcs.ObjectID{merge.Parents[uninterestingParent-1]})
	if err != nil {
		return nil, fmt.Errorf("walk merge list of %s: %w", merge.ID, err)
	}

	var b strings.Builder
	b.WriteString("Merge List:\n\n")
	for _, c := range commits {
		fmt.Fprintf(&b, "* %s %s\n", c.ID.Abbreviate(abbrevLen), c.ShortMessage())
	}
	return FromString(b.String()), nil
}
