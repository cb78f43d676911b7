// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// backupHeader prefixes the plaintext inside a backup so ImportBackup
// can reject age files that decrypt but are not vault backups.
const backupHeader = "vault-drive-key-v1\n"

// ErrNotBackup reports a decrypted payload that is not a drive key
// backup.
var ErrNotBackup = errors.New("identity: not a vault drive key backup")

// ExportBackup encrypts key under passphrase and returns an ASCII
// armored age file.
func ExportBackup(key DriveKey, passphrase string) ([]byte, error) {
	return exportBackup(key, passphrase, 0)
}

// exportBackup accepts a scrypt work factor so tests can avoid the
// default's multi-second cost. Zero keeps age's default.
func exportBackup(key DriveKey, passphrase string, workFactor int) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("identity: backup passphrase must not be empty")
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("identity: creating scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}

	var output bytes.Buffer
	armored := armor.NewWriter(&output)
	writer, err := age.Encrypt(armored, recipient)
	if err != nil {
		return nil, fmt.Errorf("identity: creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, backupHeader+key.String()+"\n"); err != nil {
		return nil, fmt.Errorf("identity: writing backup: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("identity: finalizing backup: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("identity: finalizing armor: %w", err)
	}
	return output.Bytes(), nil
}

// ImportBackup decrypts a backup produced by ExportBackup.
func ImportBackup(data []byte, passphrase string) (DriveKey, error) {
	scryptIdentity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return DriveKey{}, fmt.Errorf("identity: creating scrypt identity: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(data)), scryptIdentity)
	if err != nil {
		return DriveKey{}, fmt.Errorf("identity: decrypting backup: %w", err)
	}
	plaintext, err := io.ReadAll(io.LimitReader(reader, 1024))
	if err != nil {
		return DriveKey{}, fmt.Errorf("identity: reading backup: %w", err)
	}
	body, ok := bytes.CutPrefix(plaintext, []byte(backupHeader))
	if !ok {
		return DriveKey{}, ErrNotBackup
	}
	key, err := ParseDriveKey(string(body))
	if err != nil {
		return DriveKey{}, fmt.Errorf("%w: %w", ErrNotBackup, err)
	}
	return key, nil
}
