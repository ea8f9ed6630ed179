package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"webmail/internal/config"
	"webmail/internal/imap"
	"webmail/internal/session"
)

// newCheckCmd verifies a provider credential with a one-shot IMAP login.
// Useful because web login stores the credential without contacting the
// provider.
func newCheckCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify provider credentials with a one-shot IMAP login",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if address == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Email: ")
				reader := bufio.NewReader(cmd.InOrStdin())
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				address = strings.TrimSpace(line)
			}
			normalized, err := session.NormalizeEmail(address)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			svc := imap.NewService(cfg)
			cred := session.Credential{Email: normalized, Password: string(password)}
			if err := svc.CheckLogin(ctx, cred); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Login OK for %s via %s:%d\n", normalized, cfg.IMAP.Host, cfg.IMAP.Port)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "email", "", "Account email address")

	return cmd
}
