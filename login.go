package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/callsync/callsync-go/internal/config"
	"github.com/callsync/callsync-go/internal/crm"
	"github.com/callsync/callsync-go/internal/syncengine"
	"github.com/callsync/callsync-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	var flagUsername string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the CRM",
		Long: `Authenticate against the CRM's OAuth2 token endpoint and save the token.

The password is read from stdin. Tokens are stored with 0600 permissions and
refreshed silently during sync.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireServerURL(); err != nil {
				return err
			}

			logger := buildLogger()

			username := flagUsername
			if username == "" {
				fmt.Fprint(os.Stderr, "Username: ")

				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("reading username: %w", err)
				}

				username = strings.TrimSpace(line)
			}

			fmt.Fprint(os.Stderr, "Password: ")

			pwLine, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}

			password := strings.TrimRight(pwLine, "\r\n")

			_, err = crm.Login(cmd.Context(),
				resolvedCfg.ServerURL, resolvedCfg.ClientID,
				username, password,
				config.TokenPath(), logger)
			if err != nil {
				return err
			}

			fmt.Printf("Logged in to %s as %s\n", resolvedCfg.ServerURL, username)

			return nil
		},
	}

	cmd.Flags().StringVarP(&flagUsername, "username", "u", "", "CRM username")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	var flagResetState bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved CRM token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := tokenfile.Remove(config.TokenPath()); err != nil {
				return err
			}

			if flagResetState {
				store, err := syncengine.NewStore(config.StatePath(), buildLogger())
				if err != nil {
					return err
				}
				defer store.Close()

				if err := store.Reset(cmd.Context()); err != nil {
					return err
				}

				fmt.Println("Logged out; sync state reset")

				return nil
			}

			fmt.Println("Logged out")

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagResetState, "reset-state", false, "also reset the sync cursor and statistics")

	return cmd
}
