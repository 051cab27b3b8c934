// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts small secrets, such as cached login tokens,
// with filippo.io/age before they are written to disk.
//
// A [Keypair] is an x25519 identity whose private half lives in a
// [secret.Buffer]. [Encrypt] seals plaintext to recipients and returns
// base64 ciphertext for embedding in a preferences file; [Decrypt]
// returns the plaintext in a secret.Buffer.
package sealed
