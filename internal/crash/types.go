package crash

import (
	"errors"
	"time"
)

type RoundStatus string

const (
	RoundWaiting RoundStatus = "waiting"
	RoundRunning RoundStatus = "running"
	RoundCrashed RoundStatus = "crashed"
)

type BetStatus string

const (
	BetActive BetStatus = "active"
	BetWon    BetStatus = "won"
	BetLost   BetStatus = "lost"
)

// Round is one complete play of the crash game. The server seed and crash
// point stay hidden until the round crashes; the hash commitment is public
// from creation so the seed can be verified after reveal.
type Round struct {
	ID             string      `json:"round_id"`
	ServerSeed     string      `json:"server_seed,omitempty"`
	ServerSeedHash string      `json:"server_seed_hash"`
	ClientSeed     string      `json:"client_seed"`
	Nonce          int64       `json:"nonce"`
	CrashPoint     float64     `json:"crash_point,omitempty"`
	Status         RoundStatus `json:"status"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CrashedAt      *time.Time  `json:"crashed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Bet is a single wager bound to one round and one player. AutoCashout of
// zero means the player did not configure a threshold.
type Bet struct {
	ID                string    `json:"bet_id"`
	RoundID           string    `json:"round_id"`
	PlayerID          string    `json:"player_id"`
	Amount            float64   `json:"amount"`
	AutoCashout       float64   `json:"auto_cashout,omitempty"`
	CashoutMultiplier float64   `json:"cashout_multiplier,omitempty"`
	WinAmount         float64   `json:"win_amount,omitempty"`
	Status            BetStatus `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// Snapshot is the public view of the live round served to clients. It never
// carries the server seed or the crash point of a round still in play.
type Snapshot struct {
	RoundID        string      `json:"round_id"`
	Status         RoundStatus `json:"status"`
	ServerSeedHash string      `json:"server_seed_hash"`
	ClientSeed     string      `json:"client_seed"`
	Nonce          int64       `json:"nonce"`
	Multiplier     float64     `json:"multiplier"`
	ElapsedMs      int64       `json:"elapsed_ms"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
}

// Rejection reasons surfaced to callers. Handlers map these to HTTP statuses.
var (
	ErrInvalidAmount         = errors.New("invalid bet amount")
	ErrInvalidAutoCashout    = errors.New("auto cashout must be at least 1.00")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrBetAlreadyPlaced      = errors.New("player already has an active bet in this round")
	ErrRoundNotAcceptingBets = errors.New("round is not accepting bets")
	ErrRoundNotRunning       = errors.New("round is not running")
	ErrBetNotFound           = errors.New("bet not found")
	ErrBetNotActive          = errors.New("bet already resolved")
	ErrNoActiveRound         = errors.New("no active round")
)
