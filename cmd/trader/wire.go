//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"trend-trader/internal/store"
)

func buildApp(ctx context.Context, cfg *store.Config) (*App, func(), error) {
	wire.Build(
		provideRunID,
		provideBroker,
		provideJournal,
		provideLedger,
		provideRefresher,
		provideWatchlist,
		provideReconciler,
		providePriceCache,
		providePoller,
		provideSymbols,
		provideEngine,
		provideListener,
		provideOps,
		newApp,
	)
	return nil, nil, nil
}
