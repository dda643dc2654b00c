package maker

import (
	"sync"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// quoteBook holds the latest best bid and mid per token, written by scans and
// by the price feed.
type quoteBook struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

func newQuoteBook() *quoteBook {
	return &quoteBook{quotes: make(map[string]domain.Quote)}
}

func (q *quoteBook) tick(t domain.PriceTick) {
	if t.TokenID == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.quotes[t.TokenID]
	if ok && t.At.Before(cur.At) {
		return
	}
	if t.BestBid.IsPositive() || !ok {
		cur.BestBid = t.BestBid
	}
	if t.Mid.IsPositive() || !ok {
		cur.Mid = t.Mid
	}
	cur.At = t.At
	q.quotes[t.TokenID] = cur
}

// fromMarket records the scan prices of both tokens.
func (q *quoteBook) fromMarket(m domain.Market, at time.Time) {
	for _, t := range []domain.Token{m.Yes, m.No} {
		q.tick(domain.PriceTick{TokenID: t.TokenID, BestBid: t.BestBid, Mid: t.Mid, At: at})
	}
}

func (q *quoteBook) get(tokenID string) (domain.Quote, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	v, ok := q.quotes[tokenID]
	return v, ok
}
