package cli

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/paypoint-blue/internal/config"
)

func newCryptoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crypto",
		Short: "Encrypt config secrets",
	}
	cmd.AddCommand(
		newCryptoEncryptCmd(),
		newCryptoGenMasterKeyCmd(),
	)
	return cmd
}

func newCryptoEncryptCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt plain text as ENC[v1:aesgcm:...]",
		RunE: func(cmd *cobra.Command, args []string) error {
			plain := strings.TrimSpace(text)
			if plain == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				plain = strings.TrimSpace(string(b))
			}
			if plain == "" {
				return errors.New("missing input: provide --text or pipe stdin")
			}
			out, err := config.Encrypt(plain)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "plain text to encrypt (if empty, read from stdin)")
	return cmd
}

func newCryptoGenMasterKeyCmd() *cobra.Command {
	var format string
	var exportLine bool
	cmd := &cobra.Command{
		Use:   "gen-master-key",
		Short: "Generate a random " + config.MasterKeyEnv,
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("generate random key: %w", err)
			}

			var out string
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "base64":
				out = base64.StdEncoding.EncodeToString(buf)
			case "base64url":
				out = base64.RawURLEncoding.EncodeToString(buf)
			default:
				return errors.New("invalid --format, expect base64 or base64url")
			}

			w := cmd.OutOrStdout()
			if exportLine {
				_, err := fmt.Fprintf(w, "export %s='%s'\n", config.MasterKeyEnv, out)
				return err
			}
			_, err := fmt.Fprintln(w, out)
			return err
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&format, "format", "base64", "output format: base64|base64url")
	fs.BoolVar(&exportLine, "export", false, "print as shell export line")
	return cmd
}
