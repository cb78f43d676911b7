// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by vault's package tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never block forever on a channel that a broken
// implementation never feeds. They are the only place tests use
// wall-clock timeouts.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
//
// [Logger] returns a *slog.Logger that writes through t.Log, so engine
// and swarm log lines appear next to the failing test.
//
// [UniqueID] produces distinct names (drive paths, peer labels) across
// a test binary run.
package testutil
