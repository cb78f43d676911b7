// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"testing"

	"github.com/bureau-foundation/vault/lib/drive"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/kvstore"
	"github.com/bureau-foundation/vault/lib/testutil"
)

func TestListChildren(t *testing.T) {
	entries := []drive.Entry{
		{Key: "/Vacation/.gitkeep", IsSentinel: true},
		{Key: "/docs/a.txt", Value: []byte("alpha")},
		{Key: "/docs/deep/b.txt", Value: []byte("b")},
		{Key: "/docs/empty/.gitkeep", IsSentinel: true},
		{Key: "/docs/latest", IsLink: true},
		{Key: "/readme.md", Value: []byte("hi")},
	}

	root := listChildren(entries, "")
	names := make([]string, 0, len(root))
	for _, c := range root {
		names = append(names, c.name)
	}
	if !slices.Equal(names, []string{"Vacation", "docs", "readme.md"}) {
		t.Errorf("root children = %v", names)
	}
	if !root[0].dir || !root[1].dir || root[2].dir || root[2].size != 2 {
		t.Errorf("root kinds = %+v", root)
	}

	docs := listChildren(entries, "/docs")
	if len(docs) != 3 {
		t.Fatalf("/docs children = %+v", docs)
	}
	if docs[0].name != "a.txt" || docs[0].key != "/docs/a.txt" || docs[0].size != 5 {
		t.Errorf("docs[0] = %+v", docs[0])
	}
	if docs[1].name != "deep" || !docs[1].dir || docs[2].name != "empty" || !docs[2].dir {
		t.Errorf("docs folders = %+v", docs[1:])
	}

	if empty := listChildren(entries, "/Vacation"); len(empty) != 0 {
		t.Errorf("sentinel listed: %+v", empty)
	}
}

func TestListChildrenFolderShadowsFile(t *testing.T) {
	entries := []drive.Entry{
		{Key: "/a/x", Value: []byte("file")},
		{Key: "/a/x/y", Value: []byte("nested")},
	}
	children := listChildren(entries, "/a")
	if len(children) != 1 || !children[0].dir {
		t.Errorf("children = %+v, want one folder", children)
	}
}

func TestErrnoMapping(t *testing.T) {
	fs := &filesystem{logger: testutil.Logger(t)}
	if got := fs.errno("op", "/x", drive.ErrInvalidPath); got != syscall.EINVAL {
		t.Errorf("ErrInvalidPath -> %v", got)
	}
	if got := fs.errno("op", "/x", drive.ErrNotReady); got != syscall.EAGAIN {
		t.Errorf("ErrNotReady -> %v", got)
	}
	if got := fs.errno("op", "/x", errors.New("disk")); got != syscall.EIO {
		t.Errorf("other -> %v", got)
	}
}

func TestMountRequiresOptions(t *testing.T) {
	if _, err := Mount(Options{Drive: drive.New(drive.Config{})}); err == nil {
		t.Error("Mount accepted an empty mountpoint")
	}
	if _, err := Mount(Options{Mountpoint: t.TempDir()}); err == nil {
		t.Error("Mount accepted a nil drive")
	}
}

// fuseAvailable skips tests that need a real FUSE mount.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// testMount mounts a fresh drive and returns the mountpoint and drive.
func testMount(t *testing.T) (string, *drive.Drive) {
	t.Helper()
	fuseAvailable(t)

	key, err := identity.NewDriveKey()
	if err != nil {
		t.Fatal(err)
	}
	store, err := kvstore.Open(context.Background(), kvstore.Config{
		Path:     filepath.Join(t.TempDir(), "drive.db"),
		DriveKey: key,
		Logger:   testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	d := drive.New(drive.Config{Logger: testutil.Logger(t)})
	d.Attach(store)

	mountpoint := filepath.Join(t.TempDir(), "mnt")
	server, err := Mount(Options{Mountpoint: mountpoint, Drive: d, Logger: testutil.Logger(t)})
	if err != nil {
		t.Skipf("skipping: FUSE mount unavailable: %v", err)
	}
	t.Cleanup(func() { server.Unmount() })
	return mountpoint, d
}

func TestMountReadsDrive(t *testing.T) {
	mountpoint, d := testMount(t)
	ctx := context.Background()

	if _, err := d.PutFile(ctx, "notes", "todo.txt", []byte("milk")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateFolder(ctx, "Vacation"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
		if !entry.IsDir() {
			t.Errorf("%s is not a directory", entry.Name())
		}
	}
	if !slices.Equal(names, []string{"Vacation", "notes"}) {
		t.Errorf("root = %v", names)
	}

	data, err := os.ReadFile(filepath.Join(mountpoint, "notes", "todo.txt"))
	if err != nil || string(data) != "milk" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
}

func TestMountWritesDrive(t *testing.T) {
	mountpoint, d := testMount(t)
	ctx := context.Background()

	folder := filepath.Join(mountpoint, "docs")
	if err := os.Mkdir(folder, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(folder, "plan.txt"), []byte("ship it"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, found, err := d.GetFile(ctx, "/docs/plan.txt")
	if err != nil || !found || string(data) != "ship it" {
		t.Errorf("GetFile = %q, %v, %v", data, found, err)
	}

	if err := os.WriteFile(filepath.Join(mountpoint, "root.txt"), []byte("x"), 0o644); err == nil {
		t.Error("created a file at the mount root")
	}

	if err := os.Remove(folder); err == nil {
		t.Error("removed a non-empty folder")
	}
	if err := os.Remove(filepath.Join(folder, "plan.txt")); err != nil {
		t.Fatalf("Remove file: %v", err)
	}
	if err := os.Remove(folder); err != nil {
		t.Fatalf("Remove folder: %v", err)
	}
	folders, err := d.Folders(ctx)
	if err != nil || len(folders) != 0 {
		t.Errorf("Folders after removal = %v, %v", folders, err)
	}
}
