// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"mkdir", "mkdir", 0},
		{"mkdri", "mkdir", 2},
		{"rmdir", "mkdir", 2},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flagSet.String("folder", "", "")
	flagSet.Bool("json", false, "")

	if got := suggestFlag([]string{"--json", "--foler=x"}, flagSet); got != "--folder" {
		t.Errorf("suggestFlag = %q, want --folder", got)
	}
	if got := suggestFlag([]string{"--completely-different"}, flagSet); got != "" {
		t.Errorf("suggestFlag = %q, want none", got)
	}
	if got := suggestFlag([]string{"--", "--foler"}, flagSet); got != "" {
		t.Errorf("suggestFlag past -- = %q", got)
	}
}
