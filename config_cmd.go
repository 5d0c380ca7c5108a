package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(cc.Cfg)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "account.account_id:     %s\n", cc.Cfg.Account.AccountID)
	fmt.Fprintf(cmd.OutOrStdout(), "account.client_id:      %s\n", cc.Cfg.Account.ClientID)
	fmt.Fprintf(cmd.OutOrStdout(), "account.token_file:     %s\n", cc.Cfg.Account.TokenFile)
	fmt.Fprintf(cmd.OutOrStdout(), "sync.local_root:        %s\n", cc.Cfg.Sync.LocalRoot)
	fmt.Fprintf(cmd.OutOrStdout(), "sync.remote_root_id:    %s\n", cc.Cfg.Sync.RemoteRootID)
	fmt.Fprintf(cmd.OutOrStdout(), "sync.state_db_path:     %s\n", cc.Cfg.Sync.StateDBPath)
	fmt.Fprintf(cmd.OutOrStdout(), "sync.poll_interval:     %s\n", cc.Cfg.Sync.PollInterval)
	fmt.Fprintf(cmd.OutOrStdout(), "sync.queue_depth:       %d\n", cc.Cfg.Sync.QueueDepth)
	fmt.Fprintf(cmd.OutOrStdout(), "logging.log_level:      %s\n", cc.Cfg.Logging.LogLevel)
	fmt.Fprintf(cmd.OutOrStdout(), "logging.log_format:     %s\n", cc.Cfg.Logging.LogFormat)
	fmt.Fprintf(cmd.OutOrStdout(), "status.enabled:         %t\n", cc.Cfg.Status.Enabled)
	fmt.Fprintf(cmd.OutOrStdout(), "status.listen:          %s\n", cc.Cfg.Status.Listen)

	return nil
}
