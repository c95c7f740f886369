package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tradingcore/internal/model"
	"tradingcore/internal/notification"
	"tradingcore/internal/portfolio"
	"tradingcore/internal/store"
	mongostore "tradingcore/internal/store/mongo"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID   string             `json:"order_id"`
	Event     model.TriggerEvent `json:"event"`
	FillPrice int64              `json:"fill_price"` // in paise
	FillQty   int64              `json:"fill_qty"`
	FilledAt  time.Time          `json:"filled_at"`
	Slippage  int64              `json:"slippage"` // simulated slippage in paise
}

// PaperExecutor simulates order execution without real broker calls. It
// implements orchestrator.Executor, filling every accepted trigger at the
// instrument's latest known tick price plus simulated slippage.
type PaperExecutor struct {
	mu       sync.RWMutex
	fills    []Fill
	resultCh chan OrderResult
	orderSeq int64

	store store.Store
	qty   int64 // fixed shares per fill; order sizing is not yet signal-driven

	slippageBps int64 // basis points of slippage (e.g., 5 = 0.05%)

	journal  *Journal          // optional trade journal; nil disables persistence
	archiver *mongostore.Store // optional durable trade archival; nil disables it
	notifier notification.Notifier

	portfolio *portfolio.Portfolio
	risk      *portfolio.RiskManager
}

// SetJournal attaches a trade journal. Every subsequent fill is recorded
// there in addition to being kept in-memory and sent on Results().
func (p *PaperExecutor) SetJournal(j *Journal) {
	p.journal = j
}

// SetArchiver attaches durable trade archival. Every fill is recorded
// there in addition to the local journal.
func (p *PaperExecutor) SetArchiver(a *mongostore.Store) {
	p.archiver = a
}

// SetNotifier attaches alert delivery for fills and risk rejections.
func (p *PaperExecutor) SetNotifier(n notification.Notifier) {
	p.notifier = n
}

// SetRiskManager attaches position tracking and pre-trade risk checks.
// Without one, every accepted trigger fills unconditionally.
func (p *PaperExecutor) SetRiskManager(pf *portfolio.Portfolio, rm *portfolio.RiskManager) {
	p.portfolio = pf
	p.risk = rm
}

// NewPaperExecutor creates a paper trading executor. qty is the fixed
// quantity filled per triggered signal; slippageBps controls simulated
// slippage in basis points.
func NewPaperExecutor(st store.Store, resultBufferSize int, qty, slippageBps int64) *PaperExecutor {
	return &PaperExecutor{
		fills:       make([]Fill, 0, 1000),
		resultCh:    make(chan OrderResult, resultBufferSize),
		store:       st,
		qty:         qty,
		slippageBps: slippageBps,
	}
}

// Results returns the channel of order results.
func (p *PaperExecutor) Results() <-chan OrderResult {
	return p.resultCh
}

// GetFills returns a snapshot of all fills.
func (p *PaperExecutor) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Execute implements orchestrator.Executor, filling the trigger against
// the instrument's latest tick price. It never retries: a missing tick
// fails the signal outright rather than leaving it active indefinitely.
func (p *PaperExecutor) Execute(ctx context.Context, ev model.TriggerEvent) (accept bool, retry bool) {
	tick, err := p.store.LatestTick(ctx, ev.Instrument)
	if err != nil || tick == nil {
		log.Printf("[paper] no tick for %s, failing signal=%s", ev.Instrument, ev.SignalID)
		return false, false
	}

	if p.risk != nil {
		exchange, token := splitInstrumentKey(ev.Instrument)
		qty := p.qty
		if ev.Action == model.ActionSell {
			qty = -qty
		}
		if ok, reason := p.risk.CanTrade(token, exchange, qty); !ok {
			log.Printf("[paper] risk check blocked %s for signal=%s: %s", ev.Instrument, ev.SignalID, reason)
			p.alert(ctx, notification.AlertWarning, "trade blocked by risk limit",
				fmt.Sprintf("%s %s rejected: %s", ev.Action, ev.Instrument, reason))
			return false, false
		}
	}

	p.fill(ctx, ev, tick.Price)
	return true, false
}

// splitInstrumentKey splits an "exchange:token" instrument key. Grounded
// on internal/collector/replay's splitInstrument.
func splitInstrumentKey(key string) (exchange, token string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}

func (p *PaperExecutor) alert(ctx context.Context, level notification.AlertLevel, title, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Send(ctx, notification.Alert{Level: level, Title: title, Message: message}); err != nil {
		log.Printf("[paper] notifier send failed: %v", err)
	}
}

func (p *PaperExecutor) fill(ctx context.Context, ev model.TriggerEvent, price int64) {
	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	slippage := int64(0)
	if price > 0 && p.slippageBps > 0 {
		slippage = price * p.slippageBps / 10000
		if ev.Action == model.ActionBuy {
			price += slippage // buy higher
		} else {
			price -= slippage // sell lower
		}
	}

	fill := Fill{
		OrderID:   orderID,
		Event:     ev,
		FillPrice: price,
		FillQty:   p.qty,
		FilledAt:  time.Now(),
		Slippage:  slippage,
	}
	p.fills = append(p.fills, fill)
	journal := p.journal
	p.mu.Unlock()

	log.Printf("[paper] %s %s qty=%d price=%d (slip=%d) order=%s signal=%s",
		ev.Action, ev.Instrument, p.qty, price, slippage, orderID, ev.SignalID)

	if journal != nil {
		if err := journal.RecordFill(fill); err != nil {
			log.Printf("[paper] journal record failed for order=%s: %v", orderID, err)
		}
	}

	if p.portfolio != nil {
		exchange, token := splitInstrumentKey(ev.Instrument)
		deltaQty := p.qty
		if ev.Action == model.ActionSell {
			deltaQty = -deltaQty
		}
		p.portfolio.ApplyFill(token, exchange, deltaQty, price)
	}

	if p.archiver != nil {
		trade := mongostore.TradeRecord{
			SignalID:       ev.SignalID,
			InstrumentKey:  ev.Instrument,
			Action:         string(ev.Action),
			Quantity:       p.qty,
			FillPricePaise: price,
			Status:         "executed",
			ExecutedAt:     fill.FilledAt.UnixMilli(),
		}
		if err := p.archiver.RecordTrade(ctx, trade); err != nil {
			log.Printf("[paper] trade archive failed for order=%s: %v", orderID, err)
		}
	}

	p.alert(ctx, notification.AlertInfo, "signal filled",
		fmt.Sprintf("%s %s qty=%d price=%d order=%s", ev.Action, ev.Instrument, p.qty, price, orderID))

	// Fills happen synchronously inside Execute, before the monitor gets a
	// chance to move the signal from triggered to executing, so this CASes
	// straight from triggered. The monitor's own executing-transition CAS
	// then becomes a harmless no-op (the signal is no longer "triggered").
	if _, err := p.store.CompareAndSetStatus(ctx, ev.SignalID, model.StatusTriggered, model.StatusExecuted, nil); err != nil {
		log.Printf("[paper] CAS triggered->executed failed for %s: %v", ev.SignalID, err)
	}

	p.resultCh <- OrderResult{
		OrderID: orderID,
		Status:  "FILLED",
		Message: fmt.Sprintf("paper filled at %d", price),
		Event:   ev,
	}
}
