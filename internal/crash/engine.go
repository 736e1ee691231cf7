package crash

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"crashd/internal/metrics"
)

const (
	WAITING_TIME  = 10 * time.Second
	TICK_INTERVAL = 100 * time.Millisecond
	COOLDOWN_TIME = 3 * time.Second
	GROWTH_BASE   = 1.0024

	MIN_BET_AMOUNT = 1.0
	MAX_BET_AMOUNT = 10000.0
)

type Config struct {
	WaitingTime  time.Duration
	TickInterval time.Duration
	Cooldown     time.Duration
	MinBet       float64
	MaxBet       float64
}

func DefaultConfig() Config {
	return Config{
		WaitingTime:  WAITING_TIME,
		TickInterval: TICK_INTERVAL,
		Cooldown:     COOLDOWN_TIME,
		MinBet:       MIN_BET_AMOUNT,
		MaxBet:       MAX_BET_AMOUNT,
	}
}

// Multiplier computes the live multiplier for an elapsed running time.
// floor(1.0024^(ms/100) * 100) / 100. Truncation, not rounding, so the
// value is reproducible by any client verifying a round.
func Multiplier(elapsedMs int64) float64 {
	m := math.Pow(GROWTH_BASE, float64(elapsedMs)/100)
	return math.Floor(m*100) / 100
}

// SnapshotCache receives the public round state after every transition and
// tick so the query surface can serve it without touching the engine.
type SnapshotCache interface {
	StoreSnapshot(ctx context.Context, snap Snapshot) error
}

// Engine owns the single round state machine. One goroutine drives all
// timing and state transitions; bet placement and manual cashout synchronize
// with it only through the mutex-guarded entry points.
type Engine struct {
	store Store
	cache SnapshotCache
	sinks []EventSink
	log   *zap.Logger
	cfg   Config

	now func() time.Time

	mu         sync.RWMutex
	round      *Round
	multiplier float64
	elapsedMs  int64
	nonce      int64

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewEngine(store Store, cfg Config, log *zap.Logger, sinks ...EventSink) *Engine {
	return &Engine{
		store:    store,
		sinks:    sinks,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetSnapshotCache wires an optional live-state cache. Must be called before
// Start.
func (e *Engine) SetSnapshotCache(cache SnapshotCache) {
	e.cache = cache
}

func (e *Engine) Start() {
	go e.run()
}

// Stop halts the round loop and waits for it to exit. The current round
// stays persisted in whatever state it reached; a restart resumes it.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	ctx := context.Background()

	// Recovery must succeed before any round is created: proceeding on a
	// store error could stack a fresh round on top of a still-live persisted
	// one and would start the nonce sequence over.
	round, err := e.recoverRound(ctx)
	for err != nil {
		e.log.Error("recovery failed, retrying", zap.Error(err))
		if !e.sleep(e.cfg.Cooldown) {
			return
		}
		round, err = e.recoverRound(ctx)
	}

	for {
		select {
		case <-e.stopChan:
			e.log.Info("round loop stopped")
			return
		default:
		}

		if round == nil {
			round, err = e.createRound(ctx)
			if err != nil {
				e.log.Error("create round failed", zap.Error(err))
				if !e.sleep(e.cfg.Cooldown) {
					return
				}
				continue
			}
		}

		if round.Status == RoundWaiting {
			if !e.sleep(e.cfg.WaitingTime) {
				return
			}
			if err := e.startRound(ctx, round); err != nil {
				e.log.Error("start round failed", zap.Error(err), zap.String("round_id", round.ID))
				return
			}
		}

		crashed, err := e.tickLoop(ctx)
		if err != nil {
			// Failing to persist a crash must halt the loop: creating a new
			// round on top of an unpersisted one would leave two live rounds.
			e.log.Error("round loop halted", zap.Error(err))
			return
		}
		if !crashed {
			return
		}

		if !e.sleep(e.cfg.Cooldown) {
			return
		}
		round = nil
	}
}

// recoverRound picks up the most recent non-crashed round after a restart.
// A running round resumes ticking from its persisted start time so the
// multiplier continues instead of restarting; a waiting round restarts its
// waiting timer.
func (e *Engine) recoverRound(ctx context.Context) (*Round, error) {
	nonce, err := e.store.LatestNonce(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.nonce = nonce
	e.mu.Unlock()

	round, err := e.store.ActiveRound(ctx)
	if errors.Is(err, ErrNoActiveRound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.round = round
	e.multiplier = MIN_MULTIPLIER
	e.elapsedMs = 0
	overdue := false
	if round.Status == RoundRunning && round.StartedAt != nil {
		elapsedMs := e.now().Sub(*round.StartedAt).Milliseconds()
		mult := Multiplier(elapsedMs)
		if mult >= round.CrashPoint {
			// Downtime carried the round past its crash point. The
			// multiplier must never be exposed to cashouts; mark the round
			// crashed before releasing the lock and settle it below.
			overdue = true
			round.Status = RoundCrashed
		} else {
			e.elapsedMs = elapsedMs
			e.multiplier = mult
		}
	}
	e.mu.Unlock()

	if overdue {
		if err := e.crashRound(ctx, e.now()); err != nil {
			return nil, err
		}
		e.log.Info("recovered round was past its crash point, settled",
			zap.String("round_id", round.ID),
			zap.Float64("crash_point", round.CrashPoint))
		return nil, nil
	}

	e.log.Info("recovered round",
		zap.String("round_id", round.ID),
		zap.String("status", string(round.Status)))
	return round, nil
}

func (e *Engine) createRound(ctx context.Context) (*Round, error) {
	serverSeed := GenerateServerSeed()
	clientSeed := GenerateServerSeed()

	e.mu.Lock()
	e.nonce++
	nonce := e.nonce
	e.mu.Unlock()

	round := &Round{
		ServerSeed:     serverSeed,
		ServerSeedHash: HashServerSeed(serverSeed),
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		CrashPoint:     CrashPoint(serverSeed, clientSeed, nonce),
		Status:         RoundWaiting,
		CreatedAt:      e.now(),
	}
	if err := e.store.CreateRound(ctx, round); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.round = round
	e.multiplier = MIN_MULTIPLIER
	e.elapsedMs = 0
	e.mu.Unlock()

	metrics.RoundsTotal.Inc()
	metrics.CrashPoints.Observe(round.CrashPoint)
	e.log.Info("round created",
		zap.String("round_id", round.ID),
		zap.String("commitment", round.ServerSeedHash[:16]+"..."))

	e.publish(Event{Type: EventRoundStart, Data: RoundStartEvent{
		RoundID:        round.ID,
		ServerSeedHash: round.ServerSeedHash,
		WaitSeconds:    e.cfg.WaitingTime.Seconds(),
	}})
	e.storeSnapshot(ctx)
	return round, nil
}

func (e *Engine) startRound(ctx context.Context, round *Round) error {
	startedAt := e.now()
	if err := e.store.StartRound(ctx, round.ID, startedAt); err != nil {
		return err
	}

	e.mu.Lock()
	round.Status = RoundRunning
	round.StartedAt = &startedAt
	e.multiplier = MIN_MULTIPLIER
	e.elapsedMs = 0
	e.mu.Unlock()

	e.log.Info("round running", zap.String("round_id", round.ID))
	e.storeSnapshot(ctx)
	return nil
}

// tickLoop drives the running round until it crashes or the engine stops.
// Returns (true, nil) on crash, (false, nil) on stop.
func (e *Engine) tickLoop(ctx context.Context) (bool, error) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return false, nil
		case <-ticker.C:
			crashed, err := e.runTick(ctx, e.now())
			if err != nil {
				return false, err
			}
			if crashed {
				return true, nil
			}
		}
	}
}

// runTick evaluates one tick at the given instant. Elapsed time is always
// computed from the persisted start time, never accumulated per tick, so
// delivery jitter cannot drift the multiplier.
func (e *Engine) runTick(ctx context.Context, now time.Time) (bool, error) {
	e.mu.Lock()
	round := e.round
	if round == nil || round.Status != RoundRunning || round.StartedAt == nil {
		e.mu.Unlock()
		return false, nil
	}
	elapsedMs := now.Sub(*round.StartedAt).Milliseconds()
	mult := Multiplier(elapsedMs)

	if mult >= round.CrashPoint {
		e.mu.Unlock()
		return true, e.crashRound(ctx, now)
	}

	e.multiplier = mult
	e.elapsedMs = elapsedMs
	e.mu.Unlock()

	metrics.CurrentMultiplier.Set(mult)
	e.publish(Event{Type: EventRoundTick, Data: RoundTickEvent{
		RoundID:    round.ID,
		Multiplier: mult,
		ElapsedMs:  elapsedMs,
	}})
	e.storeSnapshot(ctx)
	e.sweepAutoCashouts(ctx, round.ID, mult)
	return false, nil
}

func (e *Engine) crashRound(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	round := e.round
	round.Status = RoundCrashed
	crashedAt := now
	round.CrashedAt = &crashedAt
	e.multiplier = round.CrashPoint
	e.mu.Unlock()

	lost, err := e.store.CrashRound(ctx, round.ID, now)
	if err != nil {
		return err
	}

	metrics.BetsLostTotal.Add(float64(lost))
	metrics.CurrentMultiplier.Set(MIN_MULTIPLIER)
	e.log.Info("round crashed",
		zap.String("round_id", round.ID),
		zap.Float64("crash_point", round.CrashPoint),
		zap.Int64("bets_lost", lost))

	e.publish(Event{Type: EventRoundCrash, Data: RoundCrashEvent{
		RoundID:    round.ID,
		CrashPoint: round.CrashPoint,
		ServerSeed: round.ServerSeed,
	}})
	e.storeSnapshot(ctx)
	return nil
}

// sweepAutoCashouts resolves every active bet whose threshold the multiplier
// has reached, at the bet's own threshold value rather than the live
// multiplier, so tick granularity never changes a configured payout.
// A failed bet stays active and falls through to the next tick or to
// loss-on-crash; it never aborts the sweep.
func (e *Engine) sweepAutoCashouts(ctx context.Context, roundID string, multiplier float64) {
	bets, err := e.store.SweepableBets(ctx, roundID, multiplier)
	if err != nil {
		e.log.Error("auto-cashout sweep failed", zap.Error(err), zap.String("round_id", roundID))
		return
	}

	for _, bet := range bets {
		resolved, err := e.store.ResolveCashout(ctx, bet.ID, bet.AutoCashout)
		if err != nil {
			if !errors.Is(err, ErrBetNotActive) {
				e.log.Error("auto cashout failed", zap.Error(err), zap.String("bet_id", bet.ID))
			}
			continue
		}
		metrics.CashoutsTotal.WithLabelValues("auto").Inc()
		e.publish(Event{Type: EventPlayerCashout, Data: PlayerCashoutEvent{
			RoundID:    resolved.RoundID,
			PlayerID:   resolved.PlayerID,
			Multiplier: resolved.CashoutMultiplier,
			WinAmount:  resolved.WinAmount,
		}})
	}
}

// PlaceBet accepts a wager for the current round. Bets are accepted only
// while the round is waiting; the stake debit and bet insertion are atomic
// in the store.
func (e *Engine) PlaceBet(ctx context.Context, playerID string, amount, autoCashout float64) (*Bet, error) {
	if amount < e.cfg.MinBet || amount > e.cfg.MaxBet {
		return nil, ErrInvalidAmount
	}
	if autoCashout != 0 && autoCashout < MIN_MULTIPLIER {
		return nil, ErrInvalidAutoCashout
	}

	e.mu.RLock()
	round := e.round
	if round == nil || round.Status != RoundWaiting {
		e.mu.RUnlock()
		return nil, ErrRoundNotAcceptingBets
	}
	roundID := round.ID
	e.mu.RUnlock()

	bet, err := e.store.PlaceBet(ctx, roundID, playerID, amount, autoCashout)
	if err != nil {
		return nil, err
	}

	metrics.BetsPlacedTotal.Inc()
	e.log.Info("bet placed",
		zap.String("bet_id", bet.ID),
		zap.String("player_id", playerID),
		zap.Float64("amount", amount))
	e.publish(Event{Type: EventBetPlaced, Data: BetPlacedEvent{
		RoundID:  roundID,
		PlayerID: playerID,
		BetID:    bet.ID,
		Amount:   amount,
	}})
	return bet, nil
}

// Cashout resolves one bet on demand at the current live multiplier. The
// conditional update in the store guarantees at most one resolution even
// when this races the auto-cashout sweep for the same bet.
func (e *Engine) Cashout(ctx context.Context, playerID, betID string) (*Bet, error) {
	e.mu.RLock()
	round := e.round
	multiplier := e.multiplier
	if round == nil || round.Status != RoundRunning {
		e.mu.RUnlock()
		return nil, ErrRoundNotRunning
	}
	roundID := round.ID
	e.mu.RUnlock()

	bet, err := e.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if bet.PlayerID != playerID {
		return nil, ErrBetNotFound
	}
	if bet.RoundID != roundID {
		return nil, ErrBetNotActive
	}

	resolved, err := e.store.ResolveCashout(ctx, betID, multiplier)
	if err != nil {
		return nil, err
	}

	metrics.CashoutsTotal.WithLabelValues("manual").Inc()
	e.log.Info("cashout",
		zap.String("bet_id", betID),
		zap.Float64("multiplier", multiplier),
		zap.Float64("win_amount", resolved.WinAmount))
	e.publish(Event{Type: EventPlayerCashout, Data: PlayerCashoutEvent{
		RoundID:    resolved.RoundID,
		PlayerID:   resolved.PlayerID,
		Multiplier: resolved.CashoutMultiplier,
		WinAmount:  resolved.WinAmount,
	}})
	return resolved, nil
}

// Snapshot returns the public view of the current round.
func (e *Engine) Snapshot() (*Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.round == nil {
		return nil, ErrNoActiveRound
	}
	snap := e.snapshotLocked()
	return &snap, nil
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		RoundID:        e.round.ID,
		Status:         e.round.Status,
		ServerSeedHash: e.round.ServerSeedHash,
		ClientSeed:     e.round.ClientSeed,
		Nonce:          e.round.Nonce,
		Multiplier:     e.multiplier,
		ElapsedMs:      e.elapsedMs,
		StartedAt:      e.round.StartedAt,
	}
}

func (e *Engine) storeSnapshot(ctx context.Context) {
	if e.cache == nil {
		return
	}
	e.mu.RLock()
	snap := e.snapshotLocked()
	e.mu.RUnlock()
	if err := e.cache.StoreSnapshot(ctx, snap); err != nil {
		e.log.Warn("snapshot cache write failed", zap.Error(err))
	}
}

func (e *Engine) publish(event Event) {
	for _, sink := range e.sinks {
		sink.Publish(event)
	}
}

// sleep waits for d or until the engine is stopped. Returns false on stop.
func (e *Engine) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.stopChan:
		return false
	case <-timer.C:
		return true
	}
}
