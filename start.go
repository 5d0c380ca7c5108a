package main

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tamsinhale/drivesync/internal/config"
	"github.com/tamsinhale/drivesync/internal/driveapi"
	"github.com/tamsinhale/drivesync/internal/engine"
	"github.com/tamsinhale/drivesync/internal/statusbus"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the sync engine for the configured account",
		Long: `Start the sync engine: bootstrap (if the account has never finished an
initial sync), then watch the local root and poll the remote changes feed,
applying changes in both directions until interrupted.

Only one instance may run against a given data directory at a time — a PID
file under the data directory enforces this.`,
		RunE: runStart,
	}
}

func runStart(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	pidPath := filepath.Join(config.DefaultDataDir(), "drivesync.pid")

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("acquiring PID file: %w", err)
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	var hub *statusbus.Hub
	if cc.Cfg.Status.Enabled {
		hub = statusbus.New(cc.Logger)
		go hub.Run(ctx)

		mux := http.NewServeMux()
		mux.Handle("/status", hub.Handler())

		srv := &http.Server{Addr: cc.Cfg.Status.Listen, Handler: mux}

		go func() {
			<-ctx.Done()
			srv.Close()
		}()

		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				cc.Logger.Error("status server exited", "error", err)
			}
		}()

		cc.Logger.Info("status endpoint listening", "addr", cc.Cfg.Status.Listen)
	}

	notify := func(event, detail string) {
		cc.Logger.Info("status", "event", event, "detail", detail)
		if hub != nil {
			hub.Notify(event, detail)
		}
	}

	eng, err := engine.New(ctx, engine.Config{
		AccountID:    cc.Cfg.Account.AccountID,
		LocalRoot:    cc.Cfg.Sync.LocalRoot,
		RemoteRootID: cc.Cfg.Sync.RemoteRootID,
		StateDBPath:  cc.Cfg.Sync.StateDBPath,
		OAuth: driveapi.OAuthConfig{
			ClientID:     cc.Cfg.Account.ClientID,
			ClientSecret: cc.Cfg.Account.ClientSecret,
		},
		TokenPath:  cc.Cfg.Account.TokenFile,
		QueueDepth: cc.Cfg.Sync.QueueDepth,
	}, cc.Logger, notify)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}
	defer eng.Close()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("running engine: %w", err)
	}

	return nil
}
