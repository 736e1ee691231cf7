package crash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store and Ledger on a pgx pool. All multi-step
// mutations run inside a single transaction so a bet transition and its
// balance effect land together or not at all.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const roundColumns = `id, server_seed, server_seed_hash, client_seed, nonce, crash_point,
	status, started_at, crashed_at, created_at`

const betColumns = `id, round_id, player_id, amount, COALESCE(auto_cashout, 0),
	COALESCE(cashout_multiplier, 0), COALESCE(win_amount, 0), status, created_at`

func (s *PostgresStore) CreateRound(ctx context.Context, round *Round) error {
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rounds (id, server_seed, server_seed_hash, client_seed, nonce, crash_point, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		round.ID, round.ServerSeed, round.ServerSeedHash, round.ClientSeed,
		round.Nonce, round.CrashPoint, round.Status,
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (s *PostgresStore) StartRound(ctx context.Context, roundID string, startedAt time.Time) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE rounds SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`,
		roundID, RoundRunning, startedAt, RoundWaiting,
	)
	if err != nil {
		return fmt.Errorf("start round: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("start round %s: not in waiting state", roundID)
	}
	return nil
}

func (s *PostgresStore) CrashRound(ctx context.Context, roundID string, crashedAt time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin crash tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		UPDATE rounds SET status = $2, crashed_at = $3
		WHERE id = $1 AND status = $4`,
		roundID, RoundCrashed, crashedAt, RoundRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("crash round: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return 0, fmt.Errorf("crash round %s: not in running state", roundID)
	}

	lost, err := tx.Exec(ctx, `
		UPDATE bets SET status = $2
		WHERE round_id = $1 AND status = $3`,
		roundID, BetLost, BetActive,
	)
	if err != nil {
		return 0, fmt.Errorf("mark bets lost: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit crash tx: %w", err)
	}
	return lost.RowsAffected(), nil
}

func (s *PostgresStore) ActiveRound(ctx context.Context) (*Round, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE status IN ($1, $2)
		ORDER BY created_at DESC LIMIT 1`,
		RoundWaiting, RoundRunning,
	)
	round, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveRound
	}
	return round, err
}

func (s *PostgresStore) GetRound(ctx context.Context, roundID string) (*Round, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, roundID)
	round, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveRound
	}
	return round, err
}

func (s *PostgresStore) LatestNonce(ctx context.Context) (int64, error) {
	var nonce int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT nonce FROM rounds ORDER BY created_at DESC LIMIT 1), 0)`).Scan(&nonce)
	if err != nil {
		return 0, fmt.Errorf("query latest nonce: %w", err)
	}
	return nonce, nil
}

func (s *PostgresStore) CrashedRounds(ctx context.Context, limit int) ([]Round, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE status = $1
		ORDER BY created_at DESC LIMIT $2`,
		RoundCrashed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query crashed rounds: %w", err)
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *round)
	}
	return rounds, rows.Err()
}

func (s *PostgresStore) PlaceBet(ctx context.Context, roundID, playerID string, amount, autoCashout float64) (*Bet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bet tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO players (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, playerID); err != nil {
		return nil, fmt.Errorf("ensure player: %w", err)
	}

	var balance float64
	if err := tx.QueryRow(ctx, `
		SELECT balance FROM players WHERE id = $1 FOR UPDATE`, playerID).Scan(&balance); err != nil {
		return nil, fmt.Errorf("lock player: %w", err)
	}
	if balance < amount {
		return nil, ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `
		UPDATE players SET balance = balance - $2 WHERE id = $1`, playerID, amount); err != nil {
		return nil, fmt.Errorf("debit stake: %w", err)
	}

	bet := &Bet{
		ID:          uuid.NewString(),
		RoundID:     roundID,
		PlayerID:    playerID,
		Amount:      amount,
		AutoCashout: autoCashout,
		Status:      BetActive,
		CreatedAt:   time.Now(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bets (id, round_id, player_id, amount, auto_cashout, status)
		VALUES ($1, $2, $3, $4, NULLIF($5::numeric, 0), $6)`,
		bet.ID, bet.RoundID, bet.PlayerID, bet.Amount, bet.AutoCashout, bet.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrBetAlreadyPlaced
		}
		return nil, fmt.Errorf("insert bet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit bet tx: %w", err)
	}
	return bet, nil
}

func (s *PostgresStore) ResolveCashout(ctx context.Context, betID string, multiplier float64) (*Bet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cashout tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Conditional update is the authoritative check-and-set: a bet already
	// out of active makes a racing resolver no-op here.
	row := tx.QueryRow(ctx, `
		UPDATE bets
		SET status = $2, cashout_multiplier = $3, win_amount = round(amount * $3::numeric, 2)
		WHERE id = $1 AND status = $4
		RETURNING `+betColumns,
		betID, BetWon, multiplier, BetActive,
	)
	bet, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := s.pool.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM bets WHERE id = $1)`, betID).Scan(&exists); checkErr == nil && !exists {
			return nil, ErrBetNotFound
		}
		return nil, ErrBetNotActive
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE players SET balance = balance + $2, total_won = total_won + $2
		WHERE id = $1`,
		bet.PlayerID, bet.WinAmount,
	); err != nil {
		return nil, fmt.Errorf("credit payout: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cashout tx: %w", err)
	}
	return bet, nil
}

func (s *PostgresStore) SweepableBets(ctx context.Context, roundID string, multiplier float64) ([]Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE round_id = $1 AND status = $2
		  AND auto_cashout IS NOT NULL AND auto_cashout <= $3`,
		roundID, BetActive, multiplier,
	)
	if err != nil {
		return nil, fmt.Errorf("query sweepable bets: %w", err)
	}
	defer rows.Close()

	var bets []Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *bet)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) GetBet(ctx context.Context, betID string) (*Bet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, betID)
	bet, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBetNotFound
	}
	return bet, err
}

func (s *PostgresStore) ActiveBet(ctx context.Context, roundID, playerID string) (*Bet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE round_id = $1 AND player_id = $2 AND status = $3`,
		roundID, playerID, BetActive,
	)
	bet, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBetNotFound
	}
	return bet, err
}

func (s *PostgresStore) BetHistory(ctx context.Context, playerID string, limit, offset int) ([]Bet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE player_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		playerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query bet history: %w", err)
	}
	defer rows.Close()

	var bets []Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *bet)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) Balance(ctx context.Context, playerID string) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT balance FROM players WHERE id = $1), 0)`, playerID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, playerID string, balance float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance`,
		playerID, balance,
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func scanRound(row pgx.Row) (*Round, error) {
	var r Round
	err := row.Scan(&r.ID, &r.ServerSeed, &r.ServerSeedHash, &r.ClientSeed, &r.Nonce,
		&r.CrashPoint, &r.Status, &r.StartedAt, &r.CrashedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanBet(row pgx.Row) (*Bet, error) {
	var b Bet
	err := row.Scan(&b.ID, &b.RoundID, &b.PlayerID, &b.Amount, &b.AutoCashout,
		&b.CashoutMultiplier, &b.WinAmount, &b.Status, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
