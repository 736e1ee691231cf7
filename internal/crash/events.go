package crash

// Event types published over the broadcaster. Payloads are fixed structs so
// emitter and consumers share one schema.
const (
	EventRoundStart    = "round.start"
	EventRoundTick     = "round.tick"
	EventRoundCrash    = "round.crash"
	EventPlayerCashout = "player.cashout"
	EventBetPlaced     = "bet.placed"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type RoundStartEvent struct {
	RoundID        string  `json:"round_id"`
	ServerSeedHash string  `json:"server_seed_hash"`
	WaitSeconds    float64 `json:"wait_seconds"`
}

type RoundTickEvent struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	ElapsedMs  int64   `json:"elapsed_ms"`
}

// RoundCrashEvent reveals the server seed so clients can recompute the crash
// point and check it against the published commitment.
type RoundCrashEvent struct {
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
	ServerSeed string  `json:"server_seed"`
}

type PlayerCashoutEvent struct {
	RoundID    string  `json:"round_id"`
	PlayerID   string  `json:"player_id"`
	Multiplier float64 `json:"multiplier"`
	WinAmount  float64 `json:"win_amount"`
}

type BetPlacedEvent struct {
	RoundID  string  `json:"round_id"`
	PlayerID string  `json:"player_id"`
	BetID    string  `json:"bet_id"`
	Amount   float64 `json:"amount"`
}

// EventSink receives engine events. Delivery is at-least-once with no
// acknowledgement; implementations must not block the caller.
type EventSink interface {
	Publish(event Event)
}
