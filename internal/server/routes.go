package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"crashd/internal/crash"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type,X-Player-ID",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	game := api.Group("/crash")
	game.Get("/round", s.getCurrentRoundHandler)
	game.Get("/rounds", s.getRoundHistoryHandler)
	game.Get("/verify", s.verifyRoundHandler)
	game.Post("/bets", s.placeBetHandler)
	game.Post("/bets/:betId/cashout", s.cashoutHandler)
	game.Get("/bets/history", s.getBetHistoryHandler)

	api.Get("/players/:playerId/balance", s.getBalanceHandler)
	api.Post("/players/:playerId/balance", s.setBalanceHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	return c.JSON(s.Health())
}

// playerID resolves the caller's identity. Authentication proper lives in
// front of this service; here the identity arrives as a trusted header.
func playerID(c *fiber.Ctx) string {
	if id := c.Get("X-Player-ID"); id != "" {
		return id
	}
	return c.Query("player_id")
}

func (s *FiberServer) getCurrentRoundHandler(c *fiber.Ctx) error {
	snap, err := s.engine.Snapshot()
	if err != nil {
		return rejectError(c, err)
	}

	resp := fiber.Map{"round": snap}
	if pid := playerID(c); pid != "" {
		if bet, err := s.store.ActiveBet(c.Context(), snap.RoundID, pid); err == nil {
			resp["my_active_bet"] = bet
		}
	}
	return c.JSON(resp)
}

func (s *FiberServer) getRoundHistoryHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rounds, err := s.store.CrashedRounds(c.Context(), limit)
	if err != nil {
		return rejectError(c, err)
	}
	return c.JSON(fiber.Map{"rounds": rounds})
}

// verifyRoundHandler lets a player recompute a revealed round's crash point
// from the fairness material.
func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	serverSeed := c.Query("server_seed")
	clientSeed := c.Query("client_seed")
	nonce, err := strconv.ParseInt(c.Query("nonce"), 10, 64)
	if serverSeed == "" || clientSeed == "" || err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "server_seed, client_seed and nonce are required",
		})
	}

	point := crash.CrashPoint(serverSeed, clientSeed, nonce)
	return c.JSON(fiber.Map{
		"crash_point":      point,
		"server_seed_hash": crash.HashServerSeed(serverSeed),
	})
}

type placeBetRequest struct {
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	pid := playerID(c)
	if pid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "player identity is required"})
	}

	var req placeBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	bet, err := s.engine.PlaceBet(c.Context(), pid, req.Amount, req.AutoCashout)
	if err != nil {
		return rejectError(c, err)
	}
	return c.JSON(fiber.Map{"bet_id": bet.ID, "round_id": bet.RoundID})
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	pid := playerID(c)
	if pid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "player identity is required"})
	}

	bet, err := s.engine.Cashout(c.Context(), pid, c.Params("betId"))
	if err != nil {
		return rejectError(c, err)
	}
	return c.JSON(fiber.Map{
		"multiplier": bet.CashoutMultiplier,
		"win_amount": bet.WinAmount,
	})
}

func (s *FiberServer) getBetHistoryHandler(c *fiber.Ctx) error {
	pid := playerID(c)
	if pid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "player identity is required"})
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	bets, err := s.store.BetHistory(c.Context(), pid, limit, offset)
	if err != nil {
		return rejectError(c, err)
	}
	return c.JSON(fiber.Map{"bets": bets, "limit": limit, "offset": offset})
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	pid := c.Params("playerId")
	balance, err := s.store.Balance(c.Context(), pid)
	if err != nil {
		return rejectError(c, err)
	}
	return c.JSON(fiber.Map{"player_id": pid, "balance": balance})
}

// setBalanceHandler is an admin/testing surface for funding wallets.
func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	pid := c.Params("playerId")

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := s.store.SetBalance(c.Context(), pid, body.Balance); err != nil {
		return rejectError(c, err)
	}
	return c.JSON(fiber.Map{"player_id": pid, "balance": body.Balance})
}

// rejectError maps domain rejections to HTTP statuses. Anything not in the
// taxonomy is a 500.
func rejectError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, crash.ErrInvalidAmount),
		errors.Is(err, crash.ErrInvalidAutoCashout):
		status = fiber.StatusBadRequest
	case errors.Is(err, crash.ErrInsufficientBalance):
		status = fiber.StatusPaymentRequired
	case errors.Is(err, crash.ErrBetAlreadyPlaced),
		errors.Is(err, crash.ErrBetNotActive),
		errors.Is(err, crash.ErrRoundNotAcceptingBets),
		errors.Is(err, crash.ErrRoundNotRunning):
		status = fiber.StatusConflict
	case errors.Is(err, crash.ErrBetNotFound),
		errors.Is(err, crash.ErrNoActiveRound):
		status = fiber.StatusNotFound
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
