// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for pairview.
//
// [Version], [GitCommit], and [BuildTime] can be injected with -ldflags
// -X. Builds that skip the flags fall back to the VCS stamp the Go
// toolchain records in the binary, so a plain `go install` still
// reports its revision.
package version
