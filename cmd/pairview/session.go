// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/bureau-foundation/pairview/lib/config"
	"github.com/bureau-foundation/pairview/lib/jsonrpc"
	"github.com/bureau-foundation/pairview/lib/prefs"
	"github.com/bureau-foundation/pairview/lib/process"
	"github.com/bureau-foundation/pairview/lib/secret"
	"github.com/bureau-foundation/pairview/lib/sessionfs"
	"github.com/bureau-foundation/pairview/lib/viewui"
	"github.com/bureau-foundation/pairview/observe"
	"github.com/bureau-foundation/pairview/transport"
	"github.com/bureau-foundation/pairview/viewer"
)

// Connection modes.
const (
	modeSocket = "socket"
	modeSignal = "signal"
	modeOffer  = "offer"
	modeAnswer = "answer"
)

// session is a connected client of either kind.
type session interface {
	Store() *observe.Store
	GetText(ctx context.Context, filename string) ([]string, error)
	Close() error
}

// statusSource exposes a client's connection status.
type statusSource struct {
	current func() string
	watch   func(report func(string))

	// done, when set, closes once the client has given up for good.
	done <-chan struct{}
}

func runSession(ctx context.Context, cfg *config.Config, opts options) error {
	interactive := term.IsTerminal(int(os.Stdout.Fd())) && !opts.dump

	var fileHandler slog.Handler
	if cfg.Paths.Log != "" {
		handler, closeFile, err := openFileLogHandler(cfg.Paths.Log)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", cfg.Paths.Log, err)
		}
		defer closeFile()
		fileHandler = handler
	}
	var (
		uiHandler *viewui.LogHandler
		logger    *slog.Logger
	)
	switch {
	case interactive:
		// The screen belongs to the viewer: warnings go to its status
		// bar, everything to the file if there is one.
		uiHandler = viewui.NewLogHandler(slog.LevelWarn, fileHandler)
		logger = slog.New(uiHandler)
	case fileHandler != nil:
		logger = slog.New(fileHandler)
	default:
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	preferences, err := prefs.Open(cfg.Paths.State)
	if err != nil {
		return err
	}
	defer preferences.Close()

	state := observe.NewState(initialScheme(cfg, preferences))
	state.Follow = cfg.UI.Follow
	store := observe.NewStore(state, observe.StoreConfig{
		Reducer: observe.Reducer{Schemes: preferences, Logger: logger},
		Logger:  logger,
	})

	clientConfig := viewer.Config{
		Store: store,
		RPC: jsonrpc.ConnConfig{
			Handler:        jsonrpc.HandlerConfig{Unbatched: !cfg.Server.Batching, Logger: logger},
			DrainDelay:     cfg.RPC.DrainDelay,
			PendingDelay:   cfg.RPC.PendingDelay,
			MaxRetryDelay:  cfg.RPC.MaxRetryDelay,
			RequestTimeout: cfg.RPC.RequestTimeout,
		},
		Prefetch: cfg.UI.Prefetch,
		Logger:   logger,
	}

	var (
		client  session
		connect func() error
		status  statusSource
	)
	switch opts.mode {
	case modeSocket:
		client, connect, status, err = socketSession(ctx, cfg, opts, clientConfig, preferences, logger)
	case modeSignal, modeOffer, modeAnswer:
		client, connect, status, err = peerSession(ctx, cfg, opts, clientConfig)
	default:
		err = &process.ExitError{Code: 2, Err: fmt.Errorf("unknown mode %q (want socket, signal, offer, or answer)", opts.mode)}
	}
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Paths.Mount != "" {
		server, err := sessionfs.Mount(sessionfs.Options{
			Mountpoint: cfg.Paths.Mount,
			Source:     store,
			Fetch:      client.GetText,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		defer server.Unmount()
	}

	if !interactive {
		return dumpStates(ctx, os.Stdout, store, status, connect, logger)
	}

	var current atomic.Pointer[tea.Program]
	status.watch(func(text string) {
		if program := current.Load(); program != nil {
			program.Send(viewui.StatusMsg(text))
		}
	})
	program := tea.NewProgram(viewui.NewModel(store, status.current()), tea.WithAltScreen(), tea.WithContext(ctx))
	current.Store(program)
	uiHandler.SetProgram(program)
	// Catch a change made before the program was published.
	go program.Send(viewui.StatusMsg(status.current()))

	go func() {
		if err := connect(); err != nil {
			logger.Error("connecting to editor", "error", err)
		}
	}()

	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// initialScheme picks the saved scheme, else the configured one, else
// one matching the terminal background.
func initialScheme(cfg *config.Config, preferences *prefs.Store) string {
	for _, scheme := range []string{preferences.ColorScheme(), cfg.UI.ColorScheme} {
		if scheme != "" && viewui.KnownScheme(scheme) {
			return scheme
		}
	}
	return viewui.DetectScheme()
}

func socketSession(ctx context.Context, cfg *config.Config, opts options, clientConfig viewer.Config, preferences *prefs.Store, logger *slog.Logger) (session, func() error, statusSource, error) {
	if cfg.Server.URL == "" {
		return nil, nil, statusSource{}, errors.New("socket mode needs --url or server.url")
	}
	token, err := socketToken(ctx, cfg, opts, preferences, logger)
	if err != nil {
		return nil, nil, statusSource{}, err
	}

	client := viewer.NewSocketClient(viewer.SocketClientConfig{
		Client: clientConfig,
		Socket: transport.SocketConfig{
			URL:            cfg.Server.URL,
			InitialBackoff: cfg.Reconnect.InitialBackoff,
			MaxBackoff:     cfg.Reconnect.MaxBackoff,
		},
		Token: token,
	})
	socket := client.Socket()
	status := statusSource{
		current: func() string { return socket.Phase().String() },
		watch: func(report func(string)) {
			socket.OnOpen(func() { report(transport.PhaseOpen.String()) })
			socket.OnClose(func(error) { report(socket.Phase().String()) })
		},
		done: client.Done(),
	}
	connect := func() error {
		client.Start()
		return nil
	}
	return client, connect, status, nil
}

// socketToken resolves the auth token: --token, --token-file, a
// password login when asked for, else a cached login token, else none.
func socketToken(ctx context.Context, cfg *config.Config, opts options, preferences *prefs.Store, logger *slog.Logger) (string, error) {
	if opts.token != "" {
		return opts.token, nil
	}
	if opts.tokenFile != "" {
		buffer, err := secret.ReadFromPath(opts.tokenFile)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		defer buffer.Close()
		return buffer.String(), nil
	}

	endpoint, err := cfg.LoginEndpoint()
	if err != nil {
		return "", err
	}
	login := viewer.Login{BaseURL: endpoint, Prefs: preferences, Logger: logger}
	if opts.login {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return "", errors.New("--login needs a terminal to read the password from")
		}
		login.Prompt = func() (*secret.Buffer, error) {
			return secret.ReadPassword(int(os.Stdin.Fd()), "Password: ", os.Stderr)
		}
	}
	token, err := login.Token(ctx)
	if err != nil && !opts.login {
		// Without --login only a cached token is tried. Failing that the
		// session starts without one, and an editor with a password
		// rejects the auth and the viewer says so.
		if !errors.Is(err, viewer.ErrLoginRequired) {
			logger.Warn("cached login failed", "server", endpoint, "error", err)
		}
		return "", nil
	}
	return token, err
}

func peerSession(ctx context.Context, cfg *config.Config, opts options, clientConfig viewer.Config) (session, func() error, statusSource, error) {
	ice, err := iceConfig(cfg)
	if err != nil {
		return nil, nil, statusSource{}, err
	}
	peerConfig := transport.PeerConfig{ICE: ice, Logger: clientConfig.Logger}
	if opts.mode == modeSignal {
		if cfg.Signal.BaseURL == "" {
			return nil, nil, statusSource{}, errors.New("signal mode needs --signal-url or signal.base_url")
		}
		peerConfig.Signaler = transport.NewHTTPSignaler(cfg.Signal.BaseURL, nil)
	}

	client, err := viewer.NewPeerClient(viewer.PeerClientConfig{Client: clientConfig, Peer: peerConfig})
	if err != nil {
		return nil, nil, statusSource{}, err
	}
	status := statusSource{
		current: func() string { return string(client.Status()) },
		watch: func(report func(string)) {
			client.OnStatusChange(func(status viewer.Status) { report(string(status)) })
		},
	}

	var connect func() error
	switch opts.mode {
	case modeSignal:
		connect = func() error { return client.ConnectWithSignalToken(ctx, opts.token) }
	case modeOffer:
		// The exchange reads the terminal, so it completes before the
		// viewer takes the screen.
		if err := exchangeOffer(ctx, client, os.Stdin, os.Stderr); err != nil {
			client.Close()
			return nil, nil, statusSource{}, err
		}
		connect = func() error { return nil }
	case modeAnswer:
		if err := exchangeAnswer(ctx, client, os.Stdin, os.Stderr); err != nil {
			client.Close()
			return nil, nil, statusSource{}, err
		}
		connect = func() error { return nil }
	}
	return client, connect, status, nil
}

// iceConfig builds the ICE servers: none when host-only, else the
// configured file, else the configured list, else the defaults.
func iceConfig(cfg *config.Config) (transport.ICEConfig, error) {
	switch {
	case cfg.ICE.HostOnly:
		return transport.ICEConfig{}, nil
	case cfg.ICE.File != "":
		return transport.LoadICEConfig(cfg.ICE.File)
	case len(cfg.ICE.Servers) > 0:
		var ice transport.ICEConfig
		for _, server := range cfg.ICE.Servers {
			ice.Servers = append(ice.Servers, webrtc.ICEServer{
				URLs:       server.URLs,
				Username:   server.Username,
				Credential: server.Credential,
			})
		}
		return ice, nil
	default:
		return transport.DefaultICEConfig(), nil
	}
}

// exchangeOffer prints an offer token and waits for the editor's
// answer token on input.
func exchangeOffer(ctx context.Context, client *viewer.PeerClient, input io.Reader, output io.Writer) error {
	offer, err := client.StartCall(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Give this offer to the editor:\n\n%s\n\nPaste the answer and press enter:\n", offer)
	answer, err := readToken(input)
	if err != nil {
		return err
	}
	return client.SetAnswer(answer)
}

// exchangeAnswer reads the editor's offer token from input and prints
// the answer.
func exchangeAnswer(ctx context.Context, client *viewer.PeerClient, input io.Reader, output io.Writer) error {
	fmt.Fprintf(output, "Paste the editor's offer and press enter:\n")
	offer, err := readToken(input)
	if err != nil {
		return err
	}
	answer, err := client.RespondToCall(ctx, offer)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "\nGive this answer to the editor:\n\n%s\n\n", answer)
	return nil
}

// readToken returns the first non-blank line of input.
func readToken(input io.Reader) (string, error) {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return "", io.ErrUnexpectedEOF
}

// dumpStates writes every session snapshot to output as one JSON line
// until ctx ends or the client gives up. Snapshots are dropped while
// output is blocked.
func dumpStates(ctx context.Context, output io.Writer, store *observe.Store, status statusSource, connect func() error, logger *slog.Logger) error {
	snapshots := make(chan observe.State, 64)
	snapshots <- store.State()
	unsubscribe := store.Subscribe(func(state observe.State) {
		select {
		case snapshots <- state:
		default:
		}
	})
	defer unsubscribe()
	status.watch(func(text string) { logger.Info("connection status", "status", text) })

	group, ctx := errgroup.WithContext(ctx)
	group.Go(connect)
	group.Go(func() error {
		encoder := json.NewEncoder(output)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-status.done:
				return errors.New("connection closed")
			case state := <-snapshots:
				if err := encoder.Encode(state); err != nil {
					return fmt.Errorf("writing state: %w", err)
				}
			}
		}
	})
	return group.Wait()
}

func openFileLogHandler(path string) (slog.Handler, func(), error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return handler, func() { file.Close() }, nil
}
