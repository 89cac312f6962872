package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smallnest/crewrelay/gateway"
	"github.com/smallnest/crewrelay/internal/logger"
	"github.com/smallnest/crewrelay/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc, err := relay.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := gateway.NewServer(cfg.Gateway, svc)
	if err := srv.Start(cmd.Context()); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
