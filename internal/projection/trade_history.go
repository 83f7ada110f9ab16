package projection

import (
	"sync"
	"time"

	"OutcomeMarket/internal/event"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// Trade is one pool buy or sell, including the queue's settlement trades.
type Trade struct {
	Sequence   int64
	User       common.Address
	Side       event.Side
	Buy        bool
	Tokens     fpmath.Wad
	Price      fpmath.Wad
	Collateral fpmath.Wad // Paid on a buy, received on a sell
	Fee        fpmath.Wad
	Timestamp  time.Time
}

// TradeHistory keeps each user's most recent trades in memory. It is written
// by the projection worker and read by the query service.
type TradeHistory struct {
	mu      sync.RWMutex
	perUser int
	byUser  map[common.Address][]Trade
}

func NewTradeHistory(perUser int) *TradeHistory {
	return &TradeHistory{
		perUser: perUser,
		byUser:  make(map[common.Address][]Trade),
	}
}

// Add records a trade, evicting the user's oldest beyond the cap.
func (h *TradeHistory) Add(t Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()

	trades := append(h.byUser[t.User], t)
	if len(trades) > h.perUser {
		trades = trades[len(trades)-h.perUser:]
	}
	h.byUser[t.User] = trades
}

// QueryByUser returns up to limit trades for user, newest first.
func (h *TradeHistory) QueryByUser(user common.Address, limit int) []Trade {
	h.mu.RLock()
	defer h.mu.RUnlock()

	trades := h.byUser[user]
	result := make([]Trade, 0, min(limit, len(trades)))
	for i := len(trades) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, trades[i])
	}
	return result
}
