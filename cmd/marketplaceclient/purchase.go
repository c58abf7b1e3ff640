package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-marketplace-state/internal/purchase"
	"github.com/tinywideclouds/go-marketplace-state/pkg/commerce"
)

// purchaseOptions holds flags for the purchase command.
type purchaseOptions struct {
	*rootOptions
	ProjectID int64
	Method    string
	Amount    string
	Currency  string
}

func newPurchaseCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &purchaseOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purchase",
		Short: "Buy a single project",
		Long: `Creates one purchase for the signed-in user and prints it as JSON.

Example:
  MARKETPLACE_TOKEN=eyJ... marketplaceclient purchase --project 7 --method YAPE --amount 45.00`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurchase(cmd.Context(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.ProjectID, "project", 0, "project id (required)")
	cmd.Flags().StringVar(&opts.Method, "method", string(commerce.PaymentMethodCard), "payment method (YAPE|PLIN|CARD)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount as a decimal string (required)")
	cmd.Flags().StringVar(&opts.Currency, "currency", "PEN", "ISO currency code")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runPurchase(ctx context.Context, opts *purchaseOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	amount, err := decimal.NewFromString(opts.Amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", opts.Amount, err)
	}

	idp := newIdentityProvider(opts.cfg, opts.logger)
	token := os.Getenv(tokenEnv)
	if token == "" {
		return fmt.Errorf("%s is not set: %w", tokenEnv, commerce.ErrAuthenticationRequired)
	}
	if err := idp.SignIn(token); err != nil {
		return err
	}

	orchestrator := purchase.NewOrchestrator(newCommerceClient(opts.cfg, idp, opts.logger), opts.logger)
	p, err := orchestrator.Purchase(ctx, commerce.PurchaseRequest{
		ProjectID:     opts.ProjectID,
		PaymentMethod: commerce.PaymentMethod(strings.ToUpper(opts.Method)),
		Amount:        amount,
		Currency:      strings.ToUpper(opts.Currency),
	})
	if err != nil {
		var ce *commerce.Error
		if errors.As(err, &ce) && len(ce.Fields) > 0 {
			for field, msgs := range ce.Fields {
				opts.logger.Warn("Field rejected", "field", field, "messages", msgs)
			}
		}
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
