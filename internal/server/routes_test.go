package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"crashd/internal/crash"
)

func TestPlayerID(t *testing.T) {
	app := fiber.New()
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(playerID(c))
	})

	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"from header", "alice", "", "alice"},
		{"from query", "", "bob", "bob"},
		{"header wins over query", "alice", "bob", "alice"},
		{"absent", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/whoami"
			if tt.query != "" {
				url += "?player_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("X-Player-ID", tt.header)
			}

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("playerID = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestVerifyRoundHandler(t *testing.T) {
	s := &FiberServer{App: fiber.New()}
	s.App.Get("/verify", s.verifyRoundHandler)

	t.Run("recomputes crash point and commitment", func(t *testing.T) {
		serverSeed := "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
		clientSeed := "deadbeef"

		req := httptest.NewRequest(http.MethodGet,
			"/verify?server_seed="+serverSeed+"&client_seed="+clientSeed+"&nonce=42", nil)
		resp, err := s.App.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var out struct {
			CrashPoint     float64 `json:"crash_point"`
			ServerSeedHash string  `json:"server_seed_hash"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}

		if want := crash.CrashPoint(serverSeed, clientSeed, 42); out.CrashPoint != want {
			t.Errorf("crash_point = %v, want %v", out.CrashPoint, want)
		}
		if want := crash.HashServerSeed(serverSeed); out.ServerSeedHash != want {
			t.Errorf("server_seed_hash = %q, want %q", out.ServerSeedHash, want)
		}
	})

	t.Run("missing parameters rejected", func(t *testing.T) {
		urls := []string{
			"/verify",
			"/verify?server_seed=x&client_seed=y",         // nonce missing
			"/verify?server_seed=x&nonce=1",               // client seed missing
			"/verify?client_seed=y&nonce=1",               // server seed missing
			"/verify?server_seed=x&client_seed=y&nonce=no", // nonce not an integer
		}
		for _, url := range urls {
			req := httptest.NewRequest(http.MethodGet, url, nil)
			resp, err := s.App.Test(req)
			if err != nil {
				t.Fatalf("app.Test(%s): %v", url, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", url, resp.StatusCode)
			}
		}
	})
}

func TestRejectError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{crash.ErrInvalidAmount, http.StatusBadRequest},
		{crash.ErrInvalidAutoCashout, http.StatusBadRequest},
		{crash.ErrInsufficientBalance, http.StatusPaymentRequired},
		{crash.ErrBetAlreadyPlaced, http.StatusConflict},
		{crash.ErrBetNotActive, http.StatusConflict},
		{crash.ErrRoundNotAcceptingBets, http.StatusConflict},
		{crash.ErrRoundNotRunning, http.StatusConflict},
		{crash.ErrBetNotFound, http.StatusNotFound},
		{crash.ErrNoActiveRound, http.StatusNotFound},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return rejectError(c, tt.err)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}

			var body struct {
				Error string `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.err.Error() {
				t.Errorf("error body = %q, want %q", body.Error, tt.err.Error())
			}
		})
	}
}
