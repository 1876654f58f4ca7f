package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CivicPulse/civicpulse/internal/auth"
	"github.com/CivicPulse/civicpulse/internal/config"
	"github.com/CivicPulse/civicpulse/internal/credential"
	"github.com/CivicPulse/civicpulse/internal/gateway"
	"github.com/CivicPulse/civicpulse/internal/logger"
	"github.com/CivicPulse/civicpulse/internal/tui"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "civicpulse",
		Short: "CivicPulse - civic data chat assistant",
		Long: `CivicPulse answers questions about Parliament, MPs, bills, lobbying and
spending by letting a language model query the civic data API.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.civicpulse/config.yaml)")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(
		newServeCmd(load, &configPath),
		newChatCmd(load),
		newConfigCmd(load, &configPath),
		newKeysCmd(load),
		newServiceCmd(),
		newVersionCmd(load),
	)
	return root
}

func newServeCmd(load func() (*config.Config, error), configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger.SetDefaultLogger(logger.New(&logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}))

			result := cfg.Validate()
			for _, w := range result.Warnings {
				logger.Warn("%s", w)
			}
			if !result.IsValid() {
				return fmt.Errorf("invalid config:\n  %s", strings.Join(result.Errors, "\n  "))
			}

			svc, err := gateway.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			gw := gateway.New(cfg, svc, version)
			path := *configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil {
				gw.WatchConfig(path)
			}
			return gw.Start()
		},
	}
}

func newChatCmd(load func() (*config.Config, error)) *cobra.Command {
	var serverURL, userID, token, locale string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running server from the terminal",
		Long: `Opens an interactive terminal chat against a running server. Without
--token, a short-lived token for --user is signed with auth.jwtSecret.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}
			if token == "" {
				token, err = auth.Issue(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, userID, 12*time.Hour)
				if err != nil {
					return fmt.Errorf("cannot sign a token (pass --token): %w", err)
				}
			}
			return tui.Run(tui.Options{
				Client: tui.NewClient(serverURL, token),
				Server: serverURL,
				Locale: locale,
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "Server base URL (default http://localhost:<server.port>)")
	cmd.Flags().StringVarP(&userID, "user", "u", "operator", "User id to sign a token for")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token to use instead of signing one")
	cmd.Flags().StringVarP(&locale, "locale", "l", "en", "Answer locale: en or fr")
	return cmd
}

func newConfigCmd(load func() (*config.Config, error), configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			result := cfg.Validate()
			out := cmd.OutOrStdout()
			for _, e := range result.Errors {
				fmt.Fprintf(out, "❌ %s\n", e)
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "⚠️  %s\n", w)
			}
			if !result.IsValid() {
				return fmt.Errorf("config has %d error(s)", len(result.Errors))
			}
			fmt.Fprintln(out, "✅ Config is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config with a fresh master key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			key, err := credential.GenerateMasterKey()
			if err != nil {
				return err
			}
			cfg.Crypto.MasterKey = key

			path := *configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			written, err := config.Save(cfg, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Config written to %s\n", written)
			return nil
		},
	})
	return cmd
}

func newKeysCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the key encryption secret",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "genkey",
		Short: "Print a new random master key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credential.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt",
		Short: "Seal a provider API key read from stdin",
		Long: `Reads one API key from stdin and prints its sealed form (encrypted_key, iv,
auth_tag) using crypto.masterKey. Useful for seeding keys directly in the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			c, err := credential.NewCipher(cfg.Crypto.MasterKey)
			if err != nil {
				return err
			}
			plain, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			sealed, err := c.Encrypt(plain)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sealed)
		},
	})
	return cmd
}

// readSecret returns the first non-empty line of r
func readSecret(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no key given on stdin")
}
