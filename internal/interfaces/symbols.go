package interfaces

import "context"

// SymbolLookup resolves stock codes to display names.
type SymbolLookup interface {
	Name(ctx context.Context, stockCode string) string
	Refresh(ctx context.Context) error
}
