package strategy

import (
	"context"
	"strings"

	"cryptoSpotBot/internal/domain"
)

// Rule decides entries and exits over a bar series. Both predicates are
// evaluated against the bar at the given index, which is always the most
// recent bar at evaluation time. Implementations must treat the series as
// read-only.
//
// When both predicates would hold on the same bar, only ShouldEnter is
// consulted; ShouldExit is not evaluated for that bar.
type Rule interface {
	// ShouldEnter reports whether a position should be entered on this bar.
	ShouldEnter(ctx context.Context, series *BarSeries, index int) bool
	// ShouldExit reports whether an open position should be exited on this bar.
	ShouldExit(ctx context.Context, series *BarSeries, index int) bool
}

// Hooks is the surface the enclosing application implements to react to
// strategy decisions. OnShouldEnter and OnShouldExit are invoked from the
// strategy's bar-processing goroutine, one bar at a time, and should return
// promptly; a slow hook delays the next bar, not corrupts it.
type Hooks interface {
	// OnShouldEnter is fired when the entry rule matched a completed bar.
	OnShouldEnter(ctx context.Context)
	// OnShouldExit is fired when the exit rule matched a completed bar.
	OnShouldExit(ctx context.Context)
	// TradeAccount selects the account sufficiency checks run against.
	TradeAccount(accounts []domain.Account) (domain.Account, bool)
}

// DefaultTradeAccount resolves the account used for trading: a sole account
// is used as-is, otherwise the account named "trade" is looked up.
func DefaultTradeAccount(accounts []domain.Account) (domain.Account, bool) {
	if len(accounts) == 1 {
		return accounts[0], true
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Name, "trade") {
			return a, true
		}
	}
	return domain.Account{}, false
}
