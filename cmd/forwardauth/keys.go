package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/accessjwt/forwardauth/jwks"
)

// keyInfo is the printable description of a verification key.
type keyInfo struct {
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	Bits      int    `json:"bits"`
}

func newKeysCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Fetch the team's certs document and list the usable keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			endpoints, err := cfg.Endpoints()
			if err != nil {
				return err
			}
			fetcher, err := jwks.NewFetcher(endpoints.CertsURL,
				jwks.WithHTTPClient(jwks.NewHTTPClient(cfg.ConnectTimeout, cfg.FetchTimeout)),
				jwks.WithFetcherLogger(a.logger),
			)
			if err != nil {
				return err
			}

			set, err := fetcher.Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching %s: %w", endpoints.CertsURL, err)
			}

			infos := describeKeys(set)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"certs_url":  endpoints.CertsURL,
					"fetched_at": set.FetchedAt().UTC().Format(time.RFC3339),
					"keys":       infos,
				})
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetTitle(endpoints.CertsURL)
			t.AppendHeader(table.Row{"Key ID", "Algorithm", "Bits"})
			for _, k := range infos {
				t.AppendRow(table.Row{color.New(color.Bold).Sprint(k.KeyID), k.Algorithm, k.Bits})
			}
			t.SetStyle(table.StyleLight)
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func describeKeys(set *jwks.KeySet) []keyInfo {
	infos := make([]keyInfo, 0, set.Len())
	for _, kid := range set.KeyIDs() {
		key, ok := set.Lookup(kid)
		if !ok {
			continue
		}
		infos = append(infos, keyInfo{
			KeyID:     kid,
			Algorithm: key.Algorithm().String(),
			Bits:      key.PublicKey().N.BitLen(),
		})
	}
	return infos
}
