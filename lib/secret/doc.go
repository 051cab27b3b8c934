// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds session tokens and passwords in memory that is
// locked against swapping and excluded from core dumps.
//
// [Buffer] allocates with mmap(MAP_ANONYMOUS) outside the Go heap,
// mlocks the region, and marks it MADV_DONTDUMP. Close zeros and
// unmaps it. [ReadFromPath] loads a token from a file or stdin, and
// [ReadPassword] reads a password from a terminal without echo.
package secret
