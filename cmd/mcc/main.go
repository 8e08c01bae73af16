package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mcc/pkg/mcc"
)

// Exit codes per §6: 0 normal, 1 argument error, 2 bind/connect error,
// 3 authentication failure.
const (
	exitOK        = 0
	exitArgError  = 1
	exitConnError = 2
	exitAuthError = 3
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcc",
		Short: "Tunnel a local socket to a remote service over WebSocket",
	}
	root.AddCommand(clientCmd(), serverCmd(), keygenCmd())
	return root
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitError
	if e, ok := err.(*exitError); ok {
		ee = e
	}
	if ee != nil {
		return ee.code
	}
	return exitArgError
}

func clientCmd() *cobra.Command {
	var wsURL, bindAddr, pubkeyB64 string
	var remotePort int
	var udp bool
	var pingSeconds float64

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Bind a local address and tunnel it to a remote server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if wsURL == "" || bindAddr == "" || remotePort <= 0 {
				return &exitError{exitArgError, fmt.Errorf("mcc client: --ws, --bind and --remote are required")}
			}
			proto := "tcp"
			if udp {
				proto = "udp"
			}

			c := mcc.NewClient()
			ctx, cancel := signalContext()
			defer cancel()

			m := mcc.Mapping{
				Name:       "cli",
				WSURL:      wsURL,
				BindAddr:   bindAddr,
				RemotePort: uint16(remotePort),
				Proto:      proto,
				PingPeriod: time.Duration(pingSeconds * float64(time.Second)),
				PubKeyB64:  pubkeyB64,
			}

			events, unsubscribe := c.Subscribe()
			defer unsubscribe()

			id, err := c.StartMapping(ctx, m)
			if err != nil {
				return &exitError{exitConnError, fmt.Errorf("mcc client: %w", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mapping %s listening on %s\n", id, bindAddr)

			return runUntilCancelled(ctx, events)
		},
	}

	cmd.Flags().StringVar(&wsURL, "ws", "", "server WebSocket URL (ws:// or wss://)")
	cmd.Flags().StringVar(&bindAddr, "bind", "", "local bind address, e.g. 127.0.0.1:25565")
	cmd.Flags().IntVar(&remotePort, "remote", 0, "remote target port")
	cmd.Flags().BoolVar(&udp, "udp", false, "tunnel UDP instead of TCP")
	cmd.Flags().Float64Var(&pingSeconds, "ping", 15, "liveness ping interval in seconds (0 disables)")
	cmd.Flags().StringVar(&pubkeyB64, "pubkey", "", "server's long-term public key, base64")
	return cmd
}

func serverCmd() *cobra.Command {
	var listenAddr, keyPath string
	var allow []string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept WebSocket sessions and bridge them to local targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listenAddr == "" || len(allow) == 0 || keyPath == "" {
				return &exitError{exitArgError, fmt.Errorf("mcc server: --listen, --allow and --key are required")}
			}

			priv, pub, err := loadOrGenerateKey(keyPath)
			if err != nil {
				return &exitError{exitAuthError, fmt.Errorf("mcc server: %w", err)}
			}
			signer, err := mcc.NewSigner(priv, pub)
			if err != nil {
				return &exitError{exitAuthError, fmt.Errorf("mcc server: %w", err)}
			}

			srv, err := mcc.NewServer(listenAddr, allow, signer)
			if err != nil {
				return &exitError{exitArgError, fmt.Errorf("mcc server: %w", err)}
			}

			ctx, cancel := signalContext()
			defer cancel()

			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", listenAddr)
			if err := srv.Run(ctx); err != nil {
				return &exitError{exitConnError, fmt.Errorf("mcc server: %w", err)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, e.g. :8443")
	cmd.Flags().StringArrayVar(&allow, "allow", nil, "allowed proto/port target, repeatable (e.g. tcp/25565)")
	cmd.Flags().StringVar(&keyPath, "key", "", "path to the server's long-term signing key")
	return cmd
}

func keygenCmd() *cobra.Command {
	var algorithm, outPath string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a long-term server signing keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := mcc.GenerateServerKeys(algorithm)
			if err != nil {
				return &exitError{exitArgError, err}
			}
			if err := writeKeyFile(outPath, priv, pub); err != nil {
				return &exitError{exitConnError, fmt.Errorf("write key: %w", err)}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\npublic key (base64): %s\n", outPath, base64.StdEncoding.EncodeToString(pub))
			return nil
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", "rsa", "rsa or ed25519")
	cmd.Flags().StringVar(&outPath, "out", "mcc.key", "output path for the private key")
	return cmd
}

// writeKeyFile stores a keygen'd pair as two base64 lines (private,
// then public), since the server needs both at load time and the
// handshake's own wire format only ever carries the public half.
func writeKeyFile(path string, priv, pub []byte) error {
	content := base64.StdEncoding.EncodeToString(priv) + "\n" + base64.StdEncoding.EncodeToString(pub) + "\n"
	return os.WriteFile(path, []byte(content), 0o600)
}

func loadOrGenerateKey(path string) (priv, pub []byte, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read key %s (run 'mcc keygen' first): %w", path, err)
	}
	lines := splitLines(data)
	if len(lines) < 2 {
		return nil, nil, fmt.Errorf("key %s is malformed", path)
	}
	priv, err = base64.StdEncoding.DecodeString(lines[0])
	if err != nil {
		return nil, nil, fmt.Errorf("decode private key in %s: %w", path, err)
	}
	pub, err = base64.StdEncoding.DecodeString(lines[1])
	if err != nil {
		return nil, nil, fmt.Errorf("decode public key in %s: %w", path, err)
	}
	return priv, pub, nil
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx, stop
}

func runUntilCancelled(ctx context.Context, events <-chan mcc.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == 0 {
				fmt.Fprintf(os.Stdout, "[%s] running=%v %s\n", ev.ID, ev.Running, ev.Message)
			}
		}
	}
}
