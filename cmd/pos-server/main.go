// Command pos-server serves the clinic point-of-sale and appointment payment API.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/vetclinic-pos/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		lg.Info("Configuration loaded",
			zap.String("addr", cfg.Addr),
			zap.String("stripe_environment", cfg.Stripe.Environment),
			zap.String("backend", cfg.Backend.BaseURL),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
