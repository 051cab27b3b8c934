// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads pairview's YAML configuration.
//
// The file is named by the --config flag or the PAIRVIEW_CONFIG
// environment variable. Without either, [Default] is used, and every
// field can still be set with command-line flags. Environment variables
// never override individual values; the only expansion is ${VAR} and
// ${VAR:-default} inside path fields, with ${PAIRVIEW_STATE} referring
// to the configured state directory.
//
// A file may carry development and production sections that override
// the base values when the top-level environment matches. Production
// without an explicit section caps the reconnect backoff.
package config
