package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tamsinhale/drivesync/internal/tokenfile"
)

// OAuth login itself (the device-code/browser flow) is out of scope —
// drivesync only persists a token obtained out-of-band, or an existing
// refresh token, and transparently refreshes it afterward.

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "auth",
		Short:       "Manage the saved OAuth2 token",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
	}

	cmd.AddCommand(newAuthSetTokenCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())

	return cmd
}

func newAuthSetTokenCmd() *cobra.Command {
	var (
		accessToken  string
		refreshToken string
		tokenFile    string
		expiresIn    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "set-token",
		Short: "Persist a refresh token obtained out-of-band",
		Long: `Save an OAuth2 token to the token file drivesync will use to authenticate.
This does not perform any login flow itself — obtain the token separately
(e.g. via the cloud provider's OAuth consent screen) and pass it here.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tokenFile == "" {
				return fmt.Errorf("--token-file is required")
			}

			if refreshToken == "" {
				return fmt.Errorf("--refresh-token is required")
			}

			tok := &oauth2.Token{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
			}

			if expiresIn > 0 {
				tok.Expiry = time.Now().Add(expiresIn)
			}

			if err := tokenfile.Save(tokenFile, tok, nil); err != nil {
				return fmt.Errorf("saving token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s\n", tokenFile)

			return nil
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "current access token, if any")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token (required)")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "path to write the token file (required)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "access token lifetime, if known")

	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	var tokenFile string

	cmd := &cobra.Command{
		Use:         "status",
		Short:       "Show whether a saved token exists and its expiry",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tokenFile == "" {
				return fmt.Errorf("--token-file is required")
			}

			tok, meta, err := tokenfile.Load(tokenFile)
			if err != nil {
				return fmt.Errorf("loading token: %w", err)
			}

			if tok == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no token saved")
				return nil
			}

			if flagJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(map[string]any{
					"expiry": tok.Expiry,
					"valid":  tok.Valid(),
					"meta":   meta,
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "expiry: %s\n", formatTime(tok.Expiry))
			fmt.Fprintf(cmd.OutOrStdout(), "valid:  %t\n", tok.Valid())

			return nil
		},
	}

	cmd.Flags().StringVar(&tokenFile, "token-file", "", "path to the token file (required)")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var tokenFile string

	cmd := &cobra.Command{
		Use:         "logout",
		Short:       "Remove the saved token file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tokenFile == "" {
				return fmt.Errorf("--token-file is required")
			}

			if err := os.Remove(tokenFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing token file: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "token removed")

			return nil
		},
	}

	cmd.Flags().StringVar(&tokenFile, "token-file", "", "path to the token file (required)")

	return cmd
}
