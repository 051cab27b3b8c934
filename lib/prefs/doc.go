// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package prefs persists viewer preferences between runs: the chosen
// color scheme and, per server, the login token issued by that server.
//
// The file is CBOR ([codec]) written atomically (temporary file,
// fsync, rename). Tokens are sealed with age ([sealed]) to a keypair
// kept beside the preferences file with mode 0600, and are indexed by
// a BLAKE3 digest of the server URL so the file does not list the
// servers a user has visited.
package prefs
