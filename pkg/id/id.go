package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns prefix_ULID, e.g. ptx_01HZX...
func New(prefix string) string {
	return prefix + "_" + ULID()
}

func ULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Short returns the last n characters of a fresh ULID in lowercase. The
// random tail keeps it unique enough for gateway references with length caps.
func Short(n int) string {
	u := strings.ToLower(ULID())
	if n <= 0 || n >= len(u) {
		return u
	}
	return u[len(u)-n:]
}

// Prefixes for persisted entities.
const (
	PrefixWallet      = "wal"
	PrefixTransaction = "wtx"
	PrefixPayment     = "ptx"
	PrefixRefund      = "rfd"
	PrefixUsage       = "usg"
	PrefixAction      = "act"
	PrefixCharge      = "chg"
	PrefixPending     = "pending"
)
