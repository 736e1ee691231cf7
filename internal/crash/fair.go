package crash

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

const (
	MIN_MULTIPLIER = 1.00
	MAX_MULTIPLIER = 1000000.00
	HOUSE_EDGE     = 0.04 // 4%
)

// CrashPoint derives the crash multiplier for a round from the fairness
// material. HMAC-SHA256 keyed with the server seed over "clientSeed:nonce",
// first 13 hex chars (52 bits) reduced to a fraction in [0,1), mapped through
// (1 - houseEdge) / (1 - fraction) and truncated to 2 decimals.
//
// Anyone holding the revealed server seed can recompute this bit-for-bit,
// which is the entire fairness guarantee. Do not change the formula or the
// truncation without invalidating every published commitment.
func CrashPoint(serverSeed, clientSeed string, nonce int64) float64 {
	h := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(h, "%s:%d", clientSeed, nonce)
	digest := hex.EncodeToString(h.Sum(nil))

	// 13 hex chars = 52 bits, the full precision of a float64 mantissa.
	v, _ := strconv.ParseUint(digest[:13], 16, 64)
	fraction := float64(v) / float64(uint64(1)<<52)

	point := (1 - HOUSE_EDGE) / (1 - fraction)
	point = math.Floor(point*100) / 100

	if point < MIN_MULTIPLIER {
		return MIN_MULTIPLIER
	}
	if point > MAX_MULTIPLIER {
		return MAX_MULTIPLIER
	}
	return point
}

// GenerateServerSeed returns a cryptographically strong 32-byte hex seed.
func GenerateServerSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashServerSeed is the public commitment published before a round starts.
func HashServerSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// VerifyCrashPoint recomputes the crash point from revealed fairness material
// and compares it to the claimed outcome.
func VerifyCrashPoint(serverSeed, clientSeed string, nonce int64, claimed float64) bool {
	return math.Abs(CrashPoint(serverSeed, clientSeed, nonce)-claimed) < 0.01
}
