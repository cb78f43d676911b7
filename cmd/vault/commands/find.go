// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/vault/cli"
	"github.com/bureau-foundation/vault/lib/rpc"
)

var initMatcher = sync.OnceFunc(func() { algo.Init("path") })

// match is one path that matched a find pattern.
type match struct {
	Path  string `json:"path"`
	Score int    `json:"score"`
}

// rankPaths fuzzy-matches pattern against paths, case-insensitively,
// and returns the matches best first. Equal scores sort shorter paths
// first, then by name.
func rankPaths(paths []string, pattern string) []match {
	initMatcher()
	runes := []rune(strings.ToLower(pattern))
	if len(runes) == 0 {
		return nil
	}
	slab := util.MakeSlab(100*1024, 2048)

	var matches []match
	for _, candidate := range paths {
		chars := util.ToChars([]byte(candidate))
		result, _ := algo.FuzzyMatchV2(false, true, true, &chars, runes, false, slab)
		if result.Start < 0 || result.Score <= 0 {
			continue
		}
		matches = append(matches, match{Path: candidate, Score: result.Score})
	}
	slices.SortFunc(matches, func(a, b match) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(len(a.Path), len(b.Path)),
			strings.Compare(a.Path, b.Path),
		)
	})
	return matches
}

type findParams struct {
	cli.EngineFlags
	cli.JSONOutput
	Limit int `flag:"limit,n" desc:"maximum results" default:"20"`
}

func findCommand(s *streams) *cli.Command {
	var params findParams
	return &cli.Command{
		Name:    "find",
		Summary: "Fuzzy-find files and folders",
		Description: `Fuzzy-match a pattern against every folder and file path in
the drive, best matches first. Matching ignores case.`,
		Usage: "vault find <pattern> [flags]",
		Examples: []cli.Example{
			{Command: "vault find beach"},
			{Description: "Everything under Vacation that looks like a jpg", Command: "vault find vacjpg"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("find", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("usage: vault find <pattern>")
			}
			if params.Limit <= 0 {
				return cli.Validation("--limit must be positive")
			}
			return withClient(s, &params.EngineFlags, func(ctx context.Context, client *rpc.Client) error {
				all, err := client.LoadAll(ctx)
				if err != nil {
					return cli.RequestError(err)
				}
				paths := slices.Clone(all.Folders)
				for _, file := range all.Files {
					paths = append(paths, file.Filename)
				}
				matches := rankPaths(paths, args[0])
				if len(matches) > params.Limit {
					matches = matches[:params.Limit]
				}
				if done, err := params.EmitJSON(s.stdout, matches); done {
					return err
				}
				if len(matches) == 0 {
					return cli.NotFound("nothing matches %q", args[0])
				}
				for _, m := range matches {
					fmt.Fprintln(s.stdout, m.Path)
				}
				return nil
			})
		},
	}
}
