package main

import (
	"context"
	"fmt"
	"time"

	"github.com/3rs4lg4d0/eventpipe/internal/config"
	"github.com/spf13/cobra"
)

// drainTimeout bounds how long "order place" waits for the bus to deliver
// OrderReceived before shutting down.
const drainTimeout = 2 * time.Second

func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Example orders module",
	}

	var (
		customer string
		total    int64
	)
	place := &cobra.Command{
		Use:   "place",
		Short: "Place an order and store its OrderPlaced event in the outbox",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// the relay belongs to "run"; here only the bus is needed.
			cfg.Pipeline.Relay.Enabled = false

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.pipeline.Start(ctx); err != nil {
				return err
			}

			o, placeErr := a.orderService().Place(ctx, customer, total)
			if placeErr == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "order %s placed\n", o.Id)
				waitDrained(a, drainTimeout)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.pipeline.Shutdown(shutdownCtx); err != nil && placeErr == nil {
				return err
			}
			return placeErr
		},
	}
	place.Flags().StringVar(&customer, "customer", "", "customer placing the order")
	place.Flags().Int64Var(&total, "total", 0, "order total in cents")
	_ = place.MarkFlagRequired("customer")
	_ = place.MarkFlagRequired("total")

	cmd.AddCommand(place)
	return cmd
}

// waitDrained gives the processor a chance to consume what is queued, since
// closing the queue discards undelivered events.
func waitDrained(a *app, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for a.pipeline.Queue().Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}
