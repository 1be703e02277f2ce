package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/database"
)

var (
	subscribeEmail    string
	subscribeMaxPrice string
	subscribeOnDrop   bool
	subscribeOnStock  bool
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <product-variant-id>",
	Short: "Create a notification subscription for a variant",
	Long: `Create a standing alert subscription for one product variant. The price
ceiling is optional; without it any price drop matches. At least one of
--on-price-drop and --on-restock must be set.`,
	Example: `  monitor-service subscribe var_0awxyz1abc --email ana@example.com --on-price-drop --max-price 49.99
  monitor-service subscribe var_0awxyz1abc --email ana@example.com --on-restock`,
	Args: cobra.ExactArgs(1),
	RunE: runSubscribe,
}

func init() {
	rootCmd.AddCommand(subscribeCmd)

	subscribeCmd.Flags().StringVar(&subscribeEmail, "email", "", "Subscriber email address")
	subscribeCmd.Flags().StringVar(&subscribeMaxPrice, "max-price", "", "Only alert at or below this price (e.g. 49.99)")
	subscribeCmd.Flags().BoolVar(&subscribeOnDrop, "on-price-drop", false, "Alert on price drops")
	subscribeCmd.Flags().BoolVar(&subscribeOnStock, "on-restock", false, "Alert on restocks")
	subscribeCmd.MarkFlagRequired("email")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if !subscribeOnDrop && !subscribeOnStock {
		return fmt.Errorf("at least one of --on-price-drop and --on-restock must be set")
	}

	var ceiling *int
	if subscribeMaxPrice != "" {
		cents, err := adapters.ParseCents(subscribeMaxPrice)
		if err != nil {
			return fmt.Errorf("invalid --max-price: %w", err)
		}
		ceiling = &cents
	}

	catalog := database.NewCatalog(database.Pool())
	user, err := catalog.EnsureUser(ctx, subscribeEmail)
	if err != nil {
		return err
	}

	sub, err := catalog.CreateSubscription(ctx, user.ID, args[0], ceiling, subscribeOnDrop, subscribeOnStock)
	if err != nil {
		return err
	}

	logger.Info().
		Str("subscription_id", sub.ID).
		Str("user_id", user.ID).
		Str("product_variant_id", sub.ProductVariantID).
		Msg("Subscription created")
	return nil
}
