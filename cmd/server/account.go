package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/atmx/dsc-engine/internal/position"
)

// accountStatus is the CLI summary of one position.
type accountStatus struct {
	UserID       string            `json:"user_id"`
	Collateral   map[string]string `json:"collateral"`
	Debt         string            `json:"debt"`
	HealthFactor string            `json:"health_factor"`
	Status       string            `json:"status"`
	DebtToCover  string            `json:"debt_to_cover,omitempty"`
}

func accountCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "account <user>",
		Short: "Show a user's position as seen by a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}
			acct, err := fetchAccount(cmd.Context(), client, server, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summarize(acct))
		},
	}
	cmd.Flags().StringVar(&server, "server", envOr("DSC_SERVER", "http://localhost:8080"), "base URL of a running dsc-engine (DSC_SERVER)")
	return cmd
}

func fetchAccount(ctx context.Context, client *http.Client, server, user string) (*position.AccountResponse, error) {
	endpoint := strings.TrimRight(server, "/") + "/api/v1/accounts/" + url.PathEscape(user)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var acct position.AccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &acct, nil
}

func summarize(acct *position.AccountResponse) accountStatus {
	st := accountStatus{
		UserID:       acct.UserID,
		Collateral:   acct.Collateral,
		Debt:         acct.Debt,
		HealthFactor: acct.HealthFactor.String(),
	}
	switch {
	case acct.HealthFactor.IsUnconstrained():
		st.Status = "no_debt"
	case acct.HealthFactor.IsHealthy():
		st.Status = "healthy"
	default:
		st.Status = "liquidatable"
		st.DebtToCover = acct.DebtToCover
	}
	return st
}
