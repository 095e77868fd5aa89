package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/atmx/dsc-engine/internal/fixed"
)

func registryCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the collateral registry",
	}
	cmd.AddCommand(registryCheckCmd(cfg))
	return cmd
}

// feedStatus is the CLI-friendly form of registry.CheckResult.
type feedStatus struct {
	Asset      string `json:"asset"`
	Feed       string `json:"feed"`
	Decimals   uint8  `json:"decimals"`
	PriceUSD   string `json:"price_usd,omitempty"`
	ObservedAt string `json:"observed_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

func registryCheckCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the registry and read every price feed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := cfg.loadRegistry()
			if err != nil {
				return err
			}
			if cfg.PriceTimeout > 0 {
				reg.PriceTimeout = cfg.PriceTimeout
			}
			sources, _, closeRPC, err := cfg.sources(cmd.Context(), reg)
			if err != nil {
				return err
			}
			defer closeRPC()

			failed := 0
			out := make([]feedStatus, 0, len(reg.Assets))
			for _, res := range reg.Check(cmd.Context(), sources, time.Now()) {
				st := feedStatus{Asset: res.Asset, Feed: res.Feed, Decimals: res.Decimals}
				if res.Err != nil {
					st.Error = res.Err.Error()
					failed++
				} else {
					answer, _ := uint256.FromBig(res.Answer)
					st.PriceUSD = fixed.ToDecimal(answer, fixed.FeedDecimals).String()
					st.ObservedAt = res.ObservedAt.UTC().Format(time.RFC3339)
				}
				out = append(out, st)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d feeds failed", failed, len(out))
			}
			return nil
		},
	}
}
