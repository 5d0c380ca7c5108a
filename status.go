package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tamsinhale/drivesync/internal/statestore"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last known sync state for the configured account",
		Long: `Display the persisted sync state for the configured account: whether the
initial bootstrap has completed, the current changes-feed token, and how
many buffered remote changes are still waiting to be applied.

Reads only from the state database — it does not contact the remote account
or require the engine to be running.`,
		RunE: runStatus,
	}
}

type statusReport struct {
	AccountID       string `json:"account_id"`
	Synced          bool   `json:"synced"`
	ChangeToken     string `json:"change_token"`
	PendingChanges  int    `json:"pending_changes"`
	TrackedEntities int    `json:"tracked_entities"`
	TrackedBytes    int64  `json:"tracked_bytes"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	store, err := statestore.Open(cmd.Context(), cc.Cfg.Sync.StateDBPath, cc.Logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	st, err := store.Load(cmd.Context(), cc.Cfg.Account.AccountID)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	report := statusReport{AccountID: cc.Cfg.Account.AccountID}

	if st != nil {
		report.Synced = st.Synced
		report.ChangeToken = st.ChangeToken
		report.PendingChanges = len(st.ChangesToExecute)
		report.TrackedEntities = len(st.FileInfo)

		for _, info := range st.FileInfo {
			if info.HasSize {
				report.TrackedBytes += info.Size
			}
		}
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	statusf(flagQuiet, "fetching state for %s...\n", report.AccountID)

	fmt.Printf("account:          %s\n", report.AccountID)
	fmt.Printf("synced:           %t\n", report.Synced)
	fmt.Printf("change token:     %s\n", report.ChangeToken)
	fmt.Printf("pending changes:  %d\n", report.PendingChanges)
	fmt.Printf("tracked entities: %d\n", report.TrackedEntities)
	fmt.Printf("tracked size:     %s\n", formatSize(report.TrackedBytes))

	return nil
}
