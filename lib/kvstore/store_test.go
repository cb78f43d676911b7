// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/codec"
	"github.com/bureau-foundation/vault/lib/identity"
	"github.com/bureau-foundation/vault/lib/testutil"
)

func newDriveKey(t *testing.T) identity.DriveKey {
	t.Helper()
	key, err := identity.NewDriveKey()
	if err != nil {
		t.Fatalf("NewDriveKey: %v", err)
	}
	return key
}

func openStore(t *testing.T, key identity.DriveKey) *Store {
	t.Helper()
	return openStoreAt(t, filepath.Join(t.TempDir(), "drive.db"), key)
}

func openStoreAt(t *testing.T, path string, key identity.DriveKey) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{
		Path:     path,
		DriveKey: key,
		Logger:   testutil.Logger(t),
		Clock:    clock.Fake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustPut(t *testing.T, store *Store, key, value string) {
	t.Helper()
	if err := store.Put(context.Background(), key, []byte(value)); err != nil {
		t.Fatalf("Put(%s): %v", key, err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	ctx := context.Background()

	mustPut(t, store, "/notes/todo.txt", "buy milk")
	value, found, err := store.Get(ctx, "/notes/todo.txt")
	if err != nil || !found {
		t.Fatalf("Get = found %v, err %v", found, err)
	}
	if string(value) != "buy milk" {
		t.Errorf("value = %q, want %q", value, "buy milk")
	}

	mustPut(t, store, "/notes/todo.txt", "buy bread")
	value, _, _ = store.Get(ctx, "/notes/todo.txt")
	if string(value) != "buy bread" {
		t.Errorf("after overwrite value = %q", value)
	}
}

func TestLargeValuesSurviveCompression(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	ctx := context.Background()

	text := []byte(strings.Repeat("the quick brown fox ", 500))
	binary := make([]byte, 4096)
	for index := range binary {
		binary[index] = byte(index % 7)
	}
	binary[0] = 0xff

	for key, value := range map[string][]byte{"/big.txt": text, "/big.bin": binary, "/photo.jpg": binary} {
		if err := store.Put(ctx, key, value); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
		got, found, err := store.Get(ctx, key)
		if err != nil || !found {
			t.Fatalf("Get(%s) = found %v, err %v", key, found, err)
		}
		if !bytes.Equal(got, value) {
			t.Errorf("Get(%s) returned %d bytes differing from the %d written", key, len(got), len(value))
		}
	}
}

func TestCompressionSelection(t *testing.T) {
	text := []byte(strings.Repeat("line of log output\n", 100))
	binary := bytes.Repeat([]byte{0x00, 0xff, 0xfe, 0x01}, 512)

	cases := []struct {
		name string
		key  string
		data []byte
		want Compression
	}{
		{"tiny", "/a.txt", []byte("hi"), CompressionNone},
		{"text", "/log.txt", text, CompressionZstd},
		{"binary", "/blob.bin", binary, CompressionLZ4},
		{"precompressed", "/image.PNG", binary, CompressionNone},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			compression, stored := compressBlock(testCase.key, testCase.data)
			if compression != testCase.want {
				t.Fatalf("compression = %s, want %s", compression, testCase.want)
			}
			restored, err := decompressBlock(compression, stored, int64(len(testCase.data)))
			if err != nil {
				t.Fatalf("decompressBlock: %v", err)
			}
			if !bytes.Equal(restored, testCase.data) {
				t.Error("round trip altered the data")
			}
		})
	}

	if _, err := decompressBlock(CompressionNone, []byte("abc"), 4); err == nil {
		t.Error("size mismatch not detected")
	}
	for _, compression := range []Compression{CompressionLZ4, CompressionZstd} {
		if _, err := decompressBlock(compression, []byte{0x10, 'x'}, -1); err == nil {
			t.Errorf("%v: negative size accepted", compression)
		}
		if _, err := decompressBlock(compression, []byte{0x10, 'x'}, MaxValueSize+1); err == nil {
			t.Errorf("%v: oversized block accepted", compression)
		}
	}
}

func TestMissingKeyIsAbsentNotError(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	ctx := context.Background()

	_, found, err := store.Get(ctx, "/nothing")
	if err != nil || found {
		t.Errorf("Get missing = found %v, err %v", found, err)
	}
	existed, err := store.Delete(ctx, "/nothing")
	if err != nil || existed {
		t.Errorf("Delete missing = existed %v, err %v", existed, err)
	}
	if store.Version() != 0 {
		t.Errorf("Version = %d after no-op delete, want 0", store.Version())
	}
}

func TestDeleteHidesKey(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	ctx := context.Background()
	mustPut(t, store, "/a/file.txt", "x")

	existed, err := store.Delete(ctx, "/a/file.txt")
	if err != nil || !existed {
		t.Fatalf("Delete = existed %v, err %v", existed, err)
	}
	if _, found, _ := store.Get(ctx, "/a/file.txt"); found {
		t.Error("deleted key still readable")
	}
	items, _ := store.List(ctx, "/")
	if len(items) != 0 {
		t.Errorf("List after delete = %v", items)
	}

	// A put after delete revives the key.
	mustPut(t, store, "/a/file.txt", "y")
	if value, found, _ := store.Get(ctx, "/a/file.txt"); !found || string(value) != "y" {
		t.Errorf("revived Get = %q, found %v", value, found)
	}
}

func TestSameValuePutIsNoop(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	mustPut(t, store, "/k", "v")
	version := store.Version()

	mustPut(t, store, "/k", "v")
	if store.Version() != version {
		t.Errorf("Version moved from %d to %d on identical put", version, store.Version())
	}
	mustPut(t, store, "/k", "w")
	if store.Version() != version+1 {
		t.Errorf("Version = %d after changing put, want %d", store.Version(), version+1)
	}
}

func TestListOrderAndPrefix(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	ctx := context.Background()
	for _, key := range []string{"/b/2", "/a/1", "/b/1", "/ab", "/c"} {
		mustPut(t, store, key, key)
	}

	items, err := store.List(ctx, "/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var keys []string
	for _, item := range items {
		keys = append(keys, item.Key)
		if string(item.Value) != item.Key {
			t.Errorf("%s has value %q", item.Key, item.Value)
		}
	}
	if got, want := strings.Join(keys, ","), "/a/1,/ab,/b/1,/b/2,/c"; got != want {
		t.Errorf("List order = %s, want %s", got, want)
	}

	prefixed, err := store.Keys(ctx, "/b/")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if got := strings.Join(prefixed, ","); got != "/b/1,/b/2" {
		t.Errorf("Keys(/b/) = %s", got)
	}
}

func TestLinksAndStat(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	ctx := context.Background()
	mustPut(t, store, "/docs/report.txt", "twelve bytes")
	if err := store.Link(ctx, "/latest", "/docs/report.txt"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	info, found, err := store.Stat(ctx, "/docs/report.txt")
	if err != nil || !found {
		t.Fatalf("Stat = found %v, err %v", found, err)
	}
	if info.Size != 12 || info.IsLink || info.Writer != store.WriterID() {
		t.Errorf("Stat = %+v", info)
	}

	items, _ := store.List(ctx, "/latest")
	if len(items) != 1 || !items[0].IsLink || string(items[0].Value) != "/docs/report.txt" {
		t.Errorf("link item = %+v", items)
	}
}

func TestInvalidKeys(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	for _, key := range []string{"", "/", "relative/path"} {
		if err := store.Put(context.Background(), key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestReopenKeepsDataAndWriter(t *testing.T) {
	key := newDriveKey(t)
	path := filepath.Join(t.TempDir(), "drive.db")

	first, err := Open(context.Background(), Config{Path: path, DriveKey: key})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustPut(t, first, "/keep.txt", "persisted")
	writer := first.WriterID()
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openStoreAt(t, path, key)
	if second.WriterID() != writer {
		t.Error("writer identity changed across reopen")
	}
	if second.Version() != 1 {
		t.Errorf("Version after reopen = %d, want 1", second.Version())
	}
	value, found, _ := second.Get(context.Background(), "/keep.txt")
	if !found || string(value) != "persisted" {
		t.Errorf("Get after reopen = %q, found %v", value, found)
	}
	// The log continues from the persisted head.
	mustPut(t, second, "/keep.txt", "updated")
	heads, err := second.Heads(context.Background())
	if err != nil || len(heads) != 1 || heads[0].Seq != 2 {
		t.Errorf("Heads = %+v, err %v", heads, err)
	}
}

func TestOpenRejectsOtherDrive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drive.db")
	first := openStoreAt(t, path, newDriveKey(t))
	first.Close()

	_, err := Open(context.Background(), Config{Path: path, DriveKey: newDriveKey(t)})
	if !errors.Is(err, ErrDriveMismatch) {
		t.Fatalf("Open with another key error = %v, want ErrDriveMismatch", err)
	}
}

func TestWatchDeliversMatchingChanges(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	photos := store.Watch(ctx, "/photos/")
	mustPut(t, store, "/docs/a.txt", "a")
	mustPut(t, store, "/photos/b.jpg", "b")

	change := testutil.RequireReceive(t, photos, 5*time.Second, "photos change")
	if len(change.Keys) != 1 || change.Keys[0] != "/photos/b.jpg" {
		t.Errorf("change keys = %v, want only /photos/b.jpg", change.Keys)
	}
	if change.Version != 2 {
		t.Errorf("change version = %d, want 2", change.Version)
	}

	cancel()
	testutil.RequireReceive(t, drainUntilClosed(photos), 5*time.Second, "watch channel closes on cancel")
}

func TestWatchCoalescesUnreadChanges(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	changes := store.Watch(context.Background(), "/")

	mustPut(t, store, "/one", "1")
	mustPut(t, store, "/two", "2")
	mustPut(t, store, "/three", "3")

	change := testutil.RequireReceive(t, changes, 5*time.Second, "coalesced change")
	if got := strings.Join(change.Keys, ","); got != "/one,/three,/two" {
		t.Errorf("coalesced keys = %s", got)
	}
	if change.Version != 3 {
		t.Errorf("coalesced version = %d, want 3", change.Version)
	}
	select {
	case extra := <-changes:
		t.Errorf("unexpected second change %+v", extra)
	default:
	}
}

func TestDeferYieldsOneChange(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	changes := store.Watch(context.Background(), "/")

	release := store.Defer()
	inner := store.Defer()
	for index := range 5 {
		mustPut(t, store, fmt.Sprintf("/batch/%d", index), "x")
	}
	inner()
	select {
	case change := <-changes:
		t.Fatalf("change %+v delivered while outer deferral held", change)
	default:
	}
	release()
	release()

	change := testutil.RequireReceive(t, changes, 5*time.Second, "released change")
	if len(change.Keys) != 5 {
		t.Errorf("released change has %d keys, want 5", len(change.Keys))
	}
	select {
	case extra := <-changes:
		t.Errorf("second change %+v after a single release", extra)
	default:
	}
}

func TestConcurrentPutsSameKeyConverge(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	ctx := context.Background()

	var waitGroup sync.WaitGroup
	for index := range 16 {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if err := store.Put(ctx, "/contended", []byte(fmt.Sprintf("writer-%d", index))); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
	}
	waitGroup.Wait()

	heads, _ := store.Heads(ctx)
	if len(heads) != 1 || heads[0].Seq != store.Version() {
		t.Fatalf("heads %+v inconsistent with version %d", heads, store.Version())
	}
	// The visible value is the one with the highest clock: the last
	// record appended.
	batch, err := store.recordsAfter(ctx, store.WriterID(), heads[0].Seq-1, 1)
	if err != nil || len(batch.messages) != 1 {
		t.Fatalf("recordsAfter = %d messages, err %v", len(batch.messages), err)
	}
	var last Record
	if err := codec.Unmarshal(batch.messages[0].Record, &last); err != nil {
		t.Fatalf("decoding last record: %v", err)
	}
	value, _, _ := store.Get(ctx, "/contended")
	if HashBlock(value) != last.Block {
		t.Errorf("visible value %q is not the last appended record", value)
	}
}

func TestClosedStore(t *testing.T) {
	store := openStore(t, newDriveKey(t))
	changes := store.Watch(context.Background(), "/")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := store.Put(context.Background(), "/x", []byte("y")); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close error = %v, want ErrClosed", err)
	}
	if _, ok := <-changes; ok {
		t.Error("watch channel still open after Close")
	}
}

// drainUntilClosed forwards a signal once changes is closed.
func drainUntilClosed(changes <-chan Change) <-chan struct{} {
	done := make(chan struct{}, 1)
	go func() {
		for range changes {
		}
		done <- struct{}{}
	}()
	return done
}
