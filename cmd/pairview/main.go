// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// pairview follows a remote editor session in the terminal. It shows
// the files the editor has open, follows the editor's cursor, and
// updates live as text changes.
//
// Four connection modes:
//
// socket (default): dials the editor's WebSocket server, authenticating
// with a token from --token, --token-file, or a password login.
//
// signal: joins a WebRTC session through the editor's signaling server
// using the session token given with --token.
//
// offer / answer: exchanges WebRTC call tokens by hand over stdin and
// stdout, for editors reachable by no signaling server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/pairview/lib/config"
	"github.com/bureau-foundation/pairview/lib/process"
	"github.com/bureau-foundation/pairview/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// options are the command-line settings, layered over the config file.
type options struct {
	configPath string
	mode       string
	serverURL  string
	signalURL  string
	token      string
	tokenFile  string
	login      bool
	iceFile    string
	hostOnly   bool
	scheme     string
	noFollow   bool
	dump       bool
	logOutput  string
	mount      string
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("pairview", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default: $"+config.EnvVar+")")
	flagSet.StringVarP(&opts.mode, "mode", "m", modeSocket, "connection mode: socket, signal, offer, or answer")
	flagSet.StringVar(&opts.serverURL, "url", "", "editor WebSocket URL (ws:// or wss://)")
	flagSet.StringVar(&opts.signalURL, "signal-url", "", "signaling server base URL")
	flagSet.StringVarP(&opts.token, "token", "t", "", "auth token (socket) or session token (signal)")
	flagSet.StringVar(&opts.tokenFile, "token-file", "", "read the token from this file (- for stdin)")
	flagSet.BoolVar(&opts.login, "login", false, "log in with a password, caching the token")
	flagSet.StringVar(&opts.iceFile, "ice-file", "", "JSON RTCConfiguration file listing ICE servers")
	flagSet.BoolVar(&opts.hostOnly, "host-only", false, "gather host candidates only (no STUN or TURN)")
	flagSet.StringVar(&opts.scheme, "scheme", "", "color scheme (default: saved choice, else terminal background)")
	flagSet.BoolVar(&opts.noFollow, "no-follow", false, "start with follow mode off")
	flagSet.BoolVar(&opts.dump, "dump", false, "print session state as JSON lines instead of running the viewer")
	flagSet.StringVar(&opts.logOutput, "log-output", "", "write JSON log records to this file")
	flagSet.StringVar(&opts.mount, "mount", "", "mount the session's files read-only at this directory")
	flagSet.Bool("version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return &process.ExitError{Code: 2, Err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion, _ := flagSet.GetBool("version"); showVersion {
		fmt.Printf("pairview %s\n", version.Current().Full())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return &process.ExitError{Code: 2, Err: fmt.Errorf("unexpected argument: %s", args[0])}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runSession(ctx, cfg, opts)
}

// apply copies flags that were given over the config file's values.
func (opts options) apply(cfg *config.Config) {
	if opts.serverURL != "" {
		cfg.Server.URL = opts.serverURL
	}
	if opts.signalURL != "" {
		cfg.Signal.BaseURL = opts.signalURL
	}
	if opts.iceFile != "" {
		cfg.ICE.File = opts.iceFile
	}
	if opts.hostOnly {
		cfg.ICE.HostOnly = true
	}
	if opts.scheme != "" {
		cfg.UI.ColorScheme = opts.scheme
	}
	if opts.noFollow {
		cfg.UI.Follow = false
	}
	if opts.logOutput != "" {
		cfg.Paths.Log = opts.logOutput
	}
	if opts.mount != "" {
		if absolute, err := filepath.Abs(opts.mount); err == nil {
			cfg.Paths.Mount = absolute
		} else {
			cfg.Paths.Mount = opts.mount
		}
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `pairview follows a remote editor session in the terminal.

Usage:
  pairview [flags]

Examples:
  # Follow an editor serving WebSocket on localhost
  pairview --url ws://localhost:8080

  # Log in with a password first; the token is cached for next time
  pairview --url wss://pair.example.com --login

  # Join a WebRTC session through the signaling server
  pairview --mode signal --signal-url https://signal.example.com --token abc123

  # Exchange call tokens by hand
  pairview --mode offer

  # Also expose the open files to other tools
  pairview --url ws://localhost:8080 --mount /tmp/session

Keys:
  tab/S-tab switch file   / find file   f follow   c colors
  p markdown preview   esc dismiss notice   q quit

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
