package crash

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"crashd/internal/database"
)

// newTestStore spins up a throwaway Postgres, applies the migrations and
// returns a store backed by it. Skips when Docker is not around so the
// in-memory tests in this package still run everywhere.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("integration tests disabled")
	}
	if os.Getenv("CI") == "" && !dockerAvailable() {
		t.Skip("docker not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(
		ctx,
		"postgres:latest",
		postgres.WithDatabase("crashdb"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := database.RunMigrations(db, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return NewPostgresStore(pool)
}

func dockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func newDBRound(nonce int64, crashPoint float64) *Round {
	serverSeed := GenerateServerSeed()
	return &Round{
		ServerSeed:     serverSeed,
		ServerSeedHash: HashServerSeed(serverSeed),
		ClientSeed:     GenerateServerSeed(),
		Nonce:          nonce,
		CrashPoint:     crashPoint,
		Status:         RoundWaiting,
	}
}

func TestPostgresStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("round lifecycle", func(t *testing.T) {
		round := newDBRound(1, 2.34)
		if err := store.CreateRound(ctx, round); err != nil {
			t.Fatalf("create: %v", err)
		}
		if round.ID == "" {
			t.Fatal("round id not assigned")
		}

		active, err := store.ActiveRound(ctx)
		if err != nil {
			t.Fatalf("active round: %v", err)
		}
		if active.ID != round.ID || active.Status != RoundWaiting {
			t.Fatalf("active round = %+v, want waiting round %s", active, round.ID)
		}

		nonce, err := store.LatestNonce(ctx)
		if err != nil || nonce != 1 {
			t.Fatalf("latest nonce = %d, %v; want 1", nonce, err)
		}

		startedAt := time.Now().UTC().Truncate(time.Millisecond)
		if err := store.StartRound(ctx, round.ID, startedAt); err != nil {
			t.Fatalf("start: %v", err)
		}
		// Starting twice must fail: the conditional update found no
		// waiting row.
		if err := store.StartRound(ctx, round.ID, startedAt); err == nil {
			t.Fatal("second start succeeded")
		}

		got, err := store.GetRound(ctx, round.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != RoundRunning || got.StartedAt == nil {
			t.Fatalf("round after start = %+v", got)
		}

		lost, err := store.CrashRound(ctx, round.ID, time.Now())
		if err != nil {
			t.Fatalf("crash: %v", err)
		}
		if lost != 0 {
			t.Errorf("lost = %d, want 0 (no bets)", lost)
		}

		if _, err := store.ActiveRound(ctx); !errors.Is(err, ErrNoActiveRound) {
			t.Errorf("active round after crash: err = %v, want ErrNoActiveRound", err)
		}

		history, err := store.CrashedRounds(ctx, 10)
		if err != nil {
			t.Fatalf("crashed rounds: %v", err)
		}
		if len(history) != 1 || history[0].ID != round.ID {
			t.Fatalf("history = %+v, want the crashed round", history)
		}
		if history[0].ServerSeed != round.ServerSeed {
			t.Error("server seed not revealed in history")
		}
	})

	t.Run("wallet", func(t *testing.T) {
		balance, err := store.Balance(ctx, "nobody")
		if err != nil || balance != 0 {
			t.Fatalf("unknown player balance = %v, %v; want 0", balance, err)
		}

		if err := store.SetBalance(ctx, "alice", 100); err != nil {
			t.Fatalf("set balance: %v", err)
		}
		balance, err = store.Balance(ctx, "alice")
		if err != nil || balance != 100 {
			t.Fatalf("balance = %v, %v; want 100", balance, err)
		}
	})

	t.Run("bet placement and cashout", func(t *testing.T) {
		round := newDBRound(2, 10.0)
		if err := store.CreateRound(ctx, round); err != nil {
			t.Fatalf("create round: %v", err)
		}
		if err := store.SetBalance(ctx, "alice", 100); err != nil {
			t.Fatalf("fund: %v", err)
		}

		bet, err := store.PlaceBet(ctx, round.ID, "alice", 10, 2.0)
		if err != nil {
			t.Fatalf("place bet: %v", err)
		}
		if bet.Status != BetActive || bet.AutoCashout != 2.0 {
			t.Fatalf("bet = %+v", bet)
		}

		if balance, _ := store.Balance(ctx, "alice"); balance != 90 {
			t.Errorf("balance after stake = %v, want 90", balance)
		}

		if _, err := store.PlaceBet(ctx, round.ID, "alice", 5, 0); !errors.Is(err, ErrBetAlreadyPlaced) {
			t.Errorf("duplicate bet: err = %v, want ErrBetAlreadyPlaced", err)
		}
		if balance, _ := store.Balance(ctx, "alice"); balance != 90 {
			t.Errorf("balance changed on rejected bet: %v", balance)
		}

		if _, err := store.PlaceBet(ctx, round.ID, "broke", 10, 0); !errors.Is(err, ErrInsufficientBalance) {
			t.Errorf("no funds: err = %v, want ErrInsufficientBalance", err)
		}

		found, err := store.ActiveBet(ctx, round.ID, "alice")
		if err != nil || found.ID != bet.ID {
			t.Fatalf("active bet = %+v, %v", found, err)
		}

		sweepable, err := store.SweepableBets(ctx, round.ID, 1.5)
		if err != nil || len(sweepable) != 0 {
			t.Fatalf("sweepable below threshold = %+v, %v; want none", sweepable, err)
		}
		sweepable, err = store.SweepableBets(ctx, round.ID, 2.0)
		if err != nil || len(sweepable) != 1 {
			t.Fatalf("sweepable at threshold = %+v, %v; want one", sweepable, err)
		}

		resolved, err := store.ResolveCashout(ctx, bet.ID, 2.0)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if resolved.Status != BetWon || resolved.WinAmount != 20.00 {
			t.Fatalf("resolved = %+v, want won with 20.00", resolved)
		}
		if balance, _ := store.Balance(ctx, "alice"); balance != 110 {
			t.Errorf("balance after win = %v, want 110", balance)
		}

		if _, err := store.ResolveCashout(ctx, bet.ID, 3.0); !errors.Is(err, ErrBetNotActive) {
			t.Errorf("double resolve: err = %v, want ErrBetNotActive", err)
		}
		if balance, _ := store.Balance(ctx, "alice"); balance != 110 {
			t.Errorf("balance changed on rejected resolve: %v", balance)
		}

		bets, err := store.BetHistory(ctx, "alice", 20, 0)
		if err != nil || len(bets) == 0 {
			t.Fatalf("bet history = %+v, %v", bets, err)
		}
	})

	t.Run("crash marks active bets lost", func(t *testing.T) {
		round := newDBRound(3, 5.0)
		if err := store.CreateRound(ctx, round); err != nil {
			t.Fatalf("create round: %v", err)
		}
		if err := store.SetBalance(ctx, "bob", 50); err != nil {
			t.Fatalf("fund: %v", err)
		}

		bet, err := store.PlaceBet(ctx, round.ID, "bob", 5, 0)
		if err != nil {
			t.Fatalf("place bet: %v", err)
		}

		lost, err := store.CrashRound(ctx, round.ID, time.Now())
		if err != nil {
			t.Fatalf("crash: %v", err)
		}
		if lost != 1 {
			t.Errorf("lost = %d, want 1", lost)
		}

		got, _ := store.GetBet(ctx, bet.ID)
		if got.Status != BetLost {
			t.Errorf("bet status = %v, want lost", got.Status)
		}
		if balance, _ := store.Balance(ctx, "bob"); balance != 45 {
			t.Errorf("balance = %v, want 45 (stake gone, nothing back)", balance)
		}
	})

	t.Run("concurrent cashouts resolve exactly once", func(t *testing.T) {
		round := newDBRound(4, 50.0)
		if err := store.CreateRound(ctx, round); err != nil {
			t.Fatalf("create round: %v", err)
		}
		if err := store.SetBalance(ctx, "carol", 100); err != nil {
			t.Fatalf("fund: %v", err)
		}
		bet, err := store.PlaceBet(ctx, round.ID, "carol", 10, 0)
		if err != nil {
			t.Fatalf("place bet: %v", err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.ResolveCashout(ctx, bet.ID, 3.0); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("successful resolutions = %d, want exactly 1", wins)
		}
		if balance, _ := store.Balance(ctx, "carol"); balance != 120 {
			t.Errorf("balance = %v, want 120 (one payout of 30)", balance)
		}
	})
}
