package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"webmail/internal/api"
	"webmail/internal/config"
	"webmail/internal/imap"
	"webmail/internal/logging"
	"webmail/internal/secrets"
	"webmail/internal/session"
	"webmail/internal/smtp"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webmail HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			logger := logging.New(cfg.Log.Level)

			store, err := session.NewStore(sessionKey(cfg, logger), cfg.Session.MaxAge)
			if err != nil {
				return err
			}

			server := api.NewServer(store, imap.NewService(cfg), smtp.NewSender(cfg), logger)
			httpSrv := &http.Server{
				Addr:    cfg.HTTP.Addr,
				Handler: server,
			}

			go func() {
				logger.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("http server stopped")
				}
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
			<-shutdown

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")

	return cmd
}

// sessionKey resolves the cookie signing key: explicit config key first,
// then the keyring-persisted one. With neither, the store generates a
// per-process key and sessions reset on restart.
func sessionKey(cfg config.Config, logger *logrus.Logger) []byte {
	if cfg.Session.Key != "" {
		return []byte(cfg.Session.Key)
	}
	key, err := secrets.SigningKey()
	if err != nil {
		logger.WithError(err).Warn("keyring unavailable; sessions reset on restart")
		return nil
	}
	return key
}
