// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlagsTypesAndDefaults(t *testing.T) {
	type params struct {
		Folder  string        `flag:"folder,f" desc:"destination folder" default:"inbox"`
		Force   bool          `flag:"force" desc:"overwrite"`
		Limit   int           `flag:"limit" default:"10"`
		Wait    time.Duration `flag:"wait" default:"2s"`
		Tags    []string      `flag:"tag"`
		Ignored string
	}
	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if p.Folder != "inbox" || p.Limit != 10 || p.Wait != 2*time.Second {
		t.Errorf("defaults = %+v", p)
	}
	if err := flagSet.Parse([]string{"-f", "docs", "--force", "--tag", "a,b", "rest"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Folder != "docs" || !p.Force || len(p.Tags) != 2 {
		t.Errorf("parsed = %+v", p)
	}
	if args := flagSet.Args(); len(args) != 1 || args[0] != "rest" {
		t.Errorf("positional = %v", args)
	}
	if flagSet.Lookup("ignored") != nil {
		t.Error("untagged field bound")
	}
}

func TestBindFlagsEmbedded(t *testing.T) {
	type params struct {
		EngineFlags
		JSONOutput
		Name string `flag:"name"`
	}
	var p params
	flagSet := FlagsFromParams("test", &p)
	for _, name := range []string{"socket", "config", "timeout", "json", "name"} {
		if flagSet.Lookup(name) == nil {
			t.Errorf("flag --%s not bound", name)
		}
	}
	if err := flagSet.Parse([]string{"--socket", "/tmp/e.sock", "--json"}); err != nil {
		t.Fatal(err)
	}
	if p.Socket != "/tmp/e.sock" || !p.OutputJSON {
		t.Errorf("parsed = %+v", p)
	}
}

func TestBindFlagsErrors(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(struct{}{}, flagSet); err == nil {
		t.Error("BindFlags accepted a non-pointer")
	}
	var bad struct {
		Count int `flag:"count" default:"many"`
	}
	if err := BindFlags(&bad, flagSet); err == nil || !strings.Contains(err.Error(), "--count") {
		t.Errorf("bad default error = %v", err)
	}
	var unsupported struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&unsupported, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted float32")
	}
}

func TestEmitJSON(t *testing.T) {
	var output bytes.Buffer
	off := JSONOutput{}
	if done, err := off.EmitJSON(&output, []string{"a"}); done || err != nil || output.Len() != 0 {
		t.Errorf("EmitJSON without --json = %v, %v, %q", done, err, output.String())
	}

	on := JSONOutput{OutputJSON: true}
	var empty []string
	if done, err := on.EmitJSON(&output, empty); !done || err != nil {
		t.Fatalf("EmitJSON = %v, %v", done, err)
	}
	if strings.TrimSpace(output.String()) != "[]" {
		t.Errorf("nil slice = %q, want []", output.String())
	}
}
