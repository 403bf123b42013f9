package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/bft-labs/fieldsync/internal/adapters/httpapi"
	"github.com/bft-labs/fieldsync/internal/cliconfig"
)

const statusTimeout = 5 * time.Second

func newStatusCommand() *cobra.Command {
	cfg := cliconfig.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd, &cfg); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()
			return printStatus(ctx, http.DefaultClient, cfg.APIAddr, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "control API address of the running daemon")
	return cmd
}

// printStatus fetches GET /v1/status from the daemon at addr and writes it
// as indented JSON.
func printStatus(ctx context.Context, client *http.Client, addr string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/status", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e httpapi.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("status request failed: %d %s", resp.StatusCode, e.Error)
	}

	var status httpapi.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	b, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
