// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

// main package of the MTProto frame dumper, a diagnostic tool that decrypts
// recorded frames under a known auth key and prints their message trees.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/edgelesssys/mtproto/crypto"
	"github.com/edgelesssys/mtproto/internal/logging"
	"github.com/edgelesssys/mtproto/tl"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	authKeyPath string
	fromClient  bool
	logLevel    string
	logFile     string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frame-dumper <frame-file>...",
		Short: "Decrypt recorded MTProto frames and print their message trees.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDump,
	}
	cmd.Flags().StringVar(&authKeyPath, "auth-key", "", "path to the hex-encoded 256-byte auth key")
	cmd.Flags().BoolVar(&fromClient, "from-client", false, "treat the frames as client-to-server instead of server-to-client")
	cmd.Flags().StringVarP(&logLevel, logging.Flag, logging.FlagShorthand, logging.DefaultFlagValueCLI, logging.FlagInfo)
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to the given file with rotation, in addition to stderr")
	must(cmd.MarkFlagRequired("auth-key"))
	must(logging.RegisterFlagCompletionFunc(cmd))
	return cmd
}

func runDump(cmd *cobra.Command, args []string) error {
	var log *slog.Logger
	if logFile != "" {
		log = logging.NewFileLogger(logLevel, cmd.ErrOrStderr(), logFile)
	} else {
		log = logging.NewCLILogger(logLevel, cmd.ErrOrStderr())
	}

	fs := afero.Afero{Fs: afero.NewOsFs()}
	key, err := readAuthKey(fs, authKeyPath)
	if err != nil {
		return fmt.Errorf("reading auth key: %w", err)
	}

	sender := crypto.SideServer
	if fromClient {
		sender = crypto.SideClient
	}

	outputs := make([]string, len(args))
	var eg errgroup.Group
	for i, path := range args {
		eg.Go(func() error {
			log.Debug("Dumping frame", "path", path)
			out, err := dumpFrame(fs, path, key, sender)
			if err != nil {
				return fmt.Errorf("dumping %s: %w", path, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, out := range outputs {
		fmt.Fprintf(cmd.OutOrStdout(), "== %s\n%s", args[i], out)
	}
	return nil
}

// readAuthKey loads a hex-encoded auth key from the given file.
func readAuthKey(fs afero.Afero, path string) (*crypto.AuthKey, error) {
	raw, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decoding hex: %w", err)
	}
	return crypto.NewAuthKey(data)
}

// dumpFrame decrypts one recorded frame and renders its message tree.
func dumpFrame(fs afero.Afero, path string, key *crypto.AuthKey, sender crypto.Side) (string, error) {
	payload, err := fs.ReadFile(path)
	if err != nil {
		return "", err
	}
	// Recordings may be stored hex-encoded.
	if decoded, err := hex.DecodeString(strings.TrimSpace(string(payload))); err == nil {
		payload = decoded
	}

	if err := tl.CheckMessageBuffer(payload); err != nil {
		return "", err
	}
	plaintext, err := crypto.DecryptDataV2Side(payload, key, sender)
	if err != nil {
		return "", err
	}
	if len(plaintext) < 16 {
		return "", fmt.Errorf("decrypted frame of %d bytes is too small", len(plaintext))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "salt=%#016x session=%#016x\n",
		binary.LittleEndian.Uint64(plaintext[0:8]),
		binary.LittleEndian.Uint64(plaintext[8:16]))

	message, err := tl.ParseMessage(tl.NewReader(plaintext[16:]))
	if err != nil {
		return "", err
	}
	if err := writeMessage(&b, message, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

// writeMessage renders one message, recursing through containers and gzip
// envelopes.
func writeMessage(b *strings.Builder, message tl.Message, depth int) error {
	ctor, err := tl.PeekID(message.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "%smsg_id=%d seq_no=%d bytes=%d %s\n",
		strings.Repeat("  ", depth), message.MsgID, message.SeqNo, len(message.Body), tl.ConstructorName(ctor))

	switch ctor {
	case tl.IDMsgContainer:
		inner, err := tl.ParseContainer(message.Body)
		if err != nil {
			return err
		}
		for _, m := range inner {
			if err := writeMessage(b, m, depth+1); err != nil {
				return err
			}
		}
	case tl.IDGzipPacked:
		packed, err := tl.ParseGzipPacked(message.Body)
		if err != nil {
			return err
		}
		inflated, err := tl.GzipDecompress(packed.PackedData)
		if err != nil {
			return err
		}
		return writeMessage(b, tl.Message{MsgID: message.MsgID, SeqNo: message.SeqNo, Body: inflated}, depth+1)
	}
	return nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
