// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDriveKeyHexRoundTrip(t *testing.T) {
	key, err := NewDriveKey()
	if err != nil {
		t.Fatalf("NewDriveKey: %v", err)
	}
	text := key.String()
	if len(text) != 64 {
		t.Fatalf("hex form has %d characters, want 64", len(text))
	}
	parsed, err := ParseDriveKey(text + "\n")
	if err != nil {
		t.Fatalf("ParseDriveKey: %v", err)
	}
	if parsed != key {
		t.Errorf("parsed %s, want %s", parsed, key)
	}
}

func TestParseDriveKeyRejects(t *testing.T) {
	for _, input := range []string{"", "abc", strings.Repeat("z", 64), strings.Repeat("a", 66)} {
		if _, err := ParseDriveKey(input); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseDriveKey(%q) error = %v, want ErrInvalidKey", input, err)
		}
	}
}

func TestDiscoveryKeyIsStableAndDistinct(t *testing.T) {
	first, _ := NewDriveKey()
	second, _ := NewDriveKey()

	if first.DiscoveryKey() != first.DiscoveryKey() {
		t.Error("DiscoveryKey is not deterministic")
	}
	if first.DiscoveryKey() == second.DiscoveryKey() {
		t.Error("different drives share a discovery key")
	}
	if [KeySize]byte(first.DiscoveryKey()) == [KeySize]byte(first) {
		t.Error("discovery key equals the drive key")
	}
}

func TestCapabilityBindsKeyAndTranscript(t *testing.T) {
	key, _ := NewDriveKey()
	other, _ := NewDriveKey()
	transcript := []byte("transcript-a")

	if key.Capability(transcript) != key.Capability(transcript) {
		t.Error("Capability is not deterministic")
	}
	if key.Capability(transcript) == key.Capability([]byte("transcript-b")) {
		t.Error("Capability ignores the transcript")
	}
	if key.Capability(transcript) == other.Capability(transcript) {
		t.Error("Capability ignores the drive key")
	}
}

func TestWriterSignVerify(t *testing.T) {
	writer, err := NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	message := []byte("record hash")
	signature := writer.Sign(message)
	if !writer.ID().Verify(message, signature) {
		t.Fatal("signature did not verify")
	}
	if writer.ID().Verify([]byte("tampered"), signature) {
		t.Fatal("signature verified over a different message")
	}

	restored, err := WriterFromSeed(writer.Seed())
	if err != nil {
		t.Fatalf("WriterFromSeed: %v", err)
	}
	if restored.ID() != writer.ID() {
		t.Error("restored writer has a different id")
	}
}

func TestWriterIDCompare(t *testing.T) {
	low := WriterID{0x01}
	high := WriterID{0x02}
	if low.Compare(high) != -1 || high.Compare(low) != 1 || low.Compare(low) != 0 {
		t.Error("Compare does not order bytewise")
	}
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persistent", KeyFileName)

	_, found, err := LoadKeyFile(path)
	if err != nil || found {
		t.Fatalf("LoadKeyFile on missing file = found %v, err %v", found, err)
	}

	key, _ := NewDriveKey()
	if err := SaveKeyFile(path, key); err != nil {
		t.Fatalf("SaveKeyFile: %v", err)
	}
	loaded, found, err := LoadKeyFile(path)
	if err != nil || !found {
		t.Fatalf("LoadKeyFile = found %v, err %v", found, err)
	}
	if loaded != key {
		t.Errorf("loaded %s, want %s", loaded, key)
	}

	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadKeyFile(path); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("LoadKeyFile on corrupt file error = %v, want ErrInvalidKey", err)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	key, _ := NewDriveKey()
	backup, err := exportBackup(key, "correct horse", 10)
	if err != nil {
		t.Fatalf("exportBackup: %v", err)
	}
	if !strings.HasPrefix(string(backup), "-----BEGIN AGE ENCRYPTED FILE-----") {
		t.Errorf("backup is not armored: %q", backup[:32])
	}
	if strings.Contains(string(backup), key.String()) {
		t.Fatal("backup contains the plaintext key")
	}

	restored, err := ImportBackup(backup, "correct horse")
	if err != nil {
		t.Fatalf("ImportBackup: %v", err)
	}
	if restored != key {
		t.Errorf("restored %s, want %s", restored, key)
	}

	if _, err := ImportBackup(backup, "wrong passphrase"); err == nil {
		t.Error("ImportBackup accepted the wrong passphrase")
	}
}

func TestExportBackupRequiresPassphrase(t *testing.T) {
	key, _ := NewDriveKey()
	if _, err := ExportBackup(key, ""); err == nil {
		t.Error("ExportBackup accepted an empty passphrase")
	}
}
