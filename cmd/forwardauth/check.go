package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/accessjwt/forwardauth/internal/config"
	"github.com/accessjwt/forwardauth/jwks"
	"github.com/accessjwt/forwardauth/validator"
)

// errRejected makes the command exit non-zero without repeating the reason.
var errRejected = errors.New("token rejected")

func newCheckCmd(a *app) *cobra.Command {
	var audience string

	cmd := &cobra.Command{
		Use:   "check [token|-]",
		Short: "Validate one token and print the decision",
		Long: `Validate one token against the team's current keys, the way /auth would,
and print the claims or the rejection reason. Pass "-" to read the token from
stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			raw, err := readToken(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			v, err := a.newOneShotValidator(cmd, cfg)
			if err != nil {
				return err
			}

			outcome := v.Validate(cmd.Context(), raw, audience)
			out := cmd.OutOrStdout()
			if !outcome.Accepted() {
				fmt.Fprintf(out, "%s %s\n", color.RedString("rejected:"), outcome.Reason())
				fmt.Fprintf(out, "  %v\n", outcome.Err())
				return errRejected
			}

			fmt.Fprintln(out, color.GreenString("accepted"))
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(outcome.Claims())
		},
	}
	cmd.Flags().StringVar(&audience, "aud", "", "expected audience (application audience tag)")
	_ = cmd.MarkFlagRequired("aud")
	return cmd
}

func (a *app) newOneShotValidator(cmd *cobra.Command, cfg *config.Config) (*validator.Validator, error) {
	endpoints, err := cfg.Endpoints()
	if err != nil {
		return nil, err
	}
	fetcher, err := jwks.NewFetcher(endpoints.CertsURL,
		jwks.WithHTTPClient(jwks.NewHTTPClient(cfg.ConnectTimeout, cfg.FetchTimeout)),
		jwks.WithFetcherLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	coordinator, err := jwks.NewCoordinator(fetcher, jwks.WithLogger(a.logger), jwks.WithFetchTimeout(cfg.FetchTimeout))
	if err != nil {
		return nil, err
	}
	if err := coordinator.Bootstrap(cmd.Context()); err != nil {
		a.logger.WithError(err).Warn("could not fetch the key set")
	}

	return validator.New(
		validator.WithKeyProvider(coordinator),
		validator.WithIssuer(endpoints.Issuer),
		validator.WithAllowedClockSkew(cfg.ClockSkew),
		validator.WithLogger(a.logger),
	)
}

func readToken(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return strings.TrimSpace(arg), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token from stdin: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("no token on stdin")
	}
	return token, nil
}
