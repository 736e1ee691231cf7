package crash

import (
	"context"
	"time"
)

// Store is the durable record of rounds and bets. The engine is the only
// writer; every state transition is persisted before downstream effects
// depend on it.
type Store interface {
	CreateRound(ctx context.Context, round *Round) error
	// StartRound persists the waiting→running transition with its start time.
	StartRound(ctx context.Context, roundID string, startedAt time.Time) error
	// CrashRound persists the running→crashed transition and marks every
	// remaining active bet of the round lost, in one transaction. Returns
	// the number of bets that lost.
	CrashRound(ctx context.Context, roundID string, crashedAt time.Time) (int64, error)
	// ActiveRound returns the most recently created round that has not
	// crashed, or ErrNoActiveRound.
	ActiveRound(ctx context.Context) (*Round, error)
	GetRound(ctx context.Context, roundID string) (*Round, error)
	// LatestNonce returns the nonce of the most recently created round, or
	// zero when no round exists. Keeps the nonce monotonic across restarts.
	LatestNonce(ctx context.Context) (int64, error)
	// CrashedRounds returns recently crashed rounds, newest first, with
	// their revealed seeds.
	CrashedRounds(ctx context.Context, limit int) ([]Round, error)

	// PlaceBet debits the player's balance and inserts an active bet in one
	// transaction. Fails with ErrInsufficientBalance or ErrBetAlreadyPlaced.
	PlaceBet(ctx context.Context, roundID, playerID string, amount, autoCashout float64) (*Bet, error)
	// ResolveCashout marks an active bet won at the given multiplier and
	// credits the payout, in one transaction. The check-and-set on the bet's
	// status makes racing resolvers no-op with ErrBetNotActive.
	ResolveCashout(ctx context.Context, betID string, multiplier float64) (*Bet, error)
	// SweepableBets returns the active bets of a round whose auto-cashout
	// threshold has been reached by the given multiplier.
	SweepableBets(ctx context.Context, roundID string, multiplier float64) ([]Bet, error)
	GetBet(ctx context.Context, betID string) (*Bet, error)
	ActiveBet(ctx context.Context, roundID, playerID string) (*Bet, error)
	BetHistory(ctx context.Context, playerID string, limit, offset int) ([]Bet, error)
}

// Ledger is the wallet surface consumed outside the betting transaction
// boundary (balance queries, deposits). Debits and payout credits happen
// inside Store transactions and never through this interface.
type Ledger interface {
	Balance(ctx context.Context, playerID string) (float64, error)
	SetBalance(ctx context.Context, playerID string, balance float64) error
}
