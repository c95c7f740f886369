package indicator

import (
	"log"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"tradingcore/internal/model"
)

// window holds a bounded OHLC history used to feed go-talib's batch
// functions. go-talib has no incremental API, so multi-output indicators
// recompute over the trailing window on every Update — acceptable since
// Update only runs once per finalized TF candle, not per tick.
type window struct {
	maxLen               int
	highs, lows, closes  []float64
}

func newWindow(maxLen int) *window {
	return &window{maxLen: maxLen}
}

func (w *window) push(c model.Candle) {
	h := float64(c.High) / 100.0
	l := float64(c.Low) / 100.0
	cl := float64(c.Close) / 100.0

	if len(w.closes) >= w.maxLen {
		copy(w.highs, w.highs[1:])
		copy(w.lows, w.lows[1:])
		copy(w.closes, w.closes[1:])
		w.highs[len(w.highs)-1] = h
		w.lows[len(w.lows)-1] = l
		w.closes[len(w.closes)-1] = cl
		return
	}
	w.highs = append(w.highs, h)
	w.lows = append(w.lows, l)
	w.closes = append(w.closes, cl)
}

// withClose returns copies of the window's high/low/close slices with the
// last close replaced by previewPrice, for Peek's non-mutating preview.
func (w *window) withClose(previewPrice float64) (highs, lows, closes []float64) {
	highs = append([]float64(nil), w.highs...)
	lows = append([]float64(nil), w.lows...)
	closes = append([]float64(nil), w.closes...)
	if len(closes) == 0 {
		return append(highs, previewPrice), append(lows, previewPrice), append(closes, previewPrice)
	}
	highs[len(highs)-1] = maxF(highs[len(highs)-1], previewPrice)
	lows[len(lows)-1] = minF(lows[len(lows)-1], previewPrice)
	closes[len(closes)-1] = previewPrice
	return highs, lows, closes
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// MACD computes the Moving Average Convergence/Divergence line, signal,
// or histogram, selected by Component ("line", "signal", "hist").
type MACD struct {
	fast, slow, signal int
	component           string
	win                 *window
	line, sig, hist     float64
	ready               bool
}

// NewMACD creates a MACD indicator with the standard 12/26/9 periods.
func NewMACD(component string) *MACD {
	if component == "" {
		component = "line"
	}
	return &MACD{
		fast: 12, slow: 26, signal: 9,
		component: component,
		win:       newWindow(26 + 9 + 10),
	}
}

func (m *MACD) Name() string { return "MACD_" + itoaInd(m.fast) + "_" + itoaInd(m.slow) + "_" + itoaInd(m.signal) }

func (m *MACD) Update(candle model.Candle) {
	m.win.push(candle)
	if len(m.win.closes) < m.slow+m.signal {
		return
	}
	line, sig, hist := talib.Macd(m.win.closes, m.fast, m.slow, m.signal)
	n := len(line)
	if n == 0 {
		return
	}
	m.line, m.sig, m.hist = line[n-1], sig[n-1], hist[n-1]
	m.ready = true
}

func (m *MACD) Value() float64 {
	switch m.component {
	case "signal":
		return m.sig
	case "hist":
		return m.hist
	default:
		return m.line
	}
}

func (m *MACD) Ready() bool { return m.ready }

func (m *MACD) Peek(closePaise int64) float64 {
	if !m.ready {
		return 0
	}
	price := float64(closePaise) / 100.0
	_, _, closes := m.win.withClose(price)
	line, sig, hist := talib.Macd(closes, m.fast, m.slow, m.signal)
	n := len(line)
	if n == 0 {
		return m.Value()
	}
	switch m.component {
	case "signal":
		return sig[n-1]
	case "hist":
		return hist[n-1]
	default:
		return line[n-1]
	}
}

// BBands computes Bollinger Bands, selected by Component ("upper",
// "middle", "lower").
type BBands struct {
	period                 int
	component              string
	win                     *window
	upper, middle, lower    float64
	ready                   bool
}

// NewBBands creates a Bollinger Bands indicator with 2 standard deviations.
func NewBBands(period int, component string) *BBands {
	if component == "" {
		component = "middle"
	}
	return &BBands{period: period, component: component, win: newWindow(period + 10)}
}

func (b *BBands) Name() string { return "BBANDS" }

func (b *BBands) Update(candle model.Candle) {
	b.win.push(candle)
	if len(b.win.closes) < b.period {
		return
	}
	up, mid, lo := talib.BBands(b.win.closes, b.period, 2.0, 2.0, talib.SMA)
	n := len(up)
	if n == 0 {
		return
	}
	b.upper, b.middle, b.lower = up[n-1], mid[n-1], lo[n-1]
	b.ready = true
	b.crossCheck()
}

// crossCheck recomputes the upper band from a gonum stdev over the same
// trailing window and warns if it drifts from talib's result — catches a
// talib/window desync without changing the published value.
func (b *BBands) crossCheck() {
	tail := b.win.closes[len(b.win.closes)-b.period:]
	mean := stat.Mean(tail, nil)
	sd := stat.StdDev(tail, nil)
	wantUpper := mean + 2*sd
	if b.upper != 0 && math.Abs(wantUpper-b.upper) > 0.01*math.Abs(b.upper) {
		log.Printf("[indicator] bbands stdev cross-check diverged: talib_upper=%.4f gonum_upper=%.4f", b.upper, wantUpper)
	}
}

func (b *BBands) Value() float64 {
	switch b.component {
	case "upper":
		return b.upper
	case "lower":
		return b.lower
	default:
		return b.middle
	}
}

func (b *BBands) Ready() bool { return b.ready }

func (b *BBands) Peek(closePaise int64) float64 {
	if !b.ready {
		return 0
	}
	price := float64(closePaise) / 100.0
	_, _, closes := b.win.withClose(price)
	up, mid, lo := talib.BBands(closes, b.period, 2.0, 2.0, talib.SMA)
	n := len(up)
	if n == 0 {
		return b.Value()
	}
	switch b.component {
	case "upper":
		return up[n-1]
	case "lower":
		return lo[n-1]
	default:
		return mid[n-1]
	}
}

// ATR computes the Average True Range over a rolling high/low/close window.
type ATR struct {
	period  int
	win     *window
	current float64
	ready   bool
}

func NewATR(period int) *ATR {
	return &ATR{period: period, win: newWindow(period*3 + 10)}
}

func (a *ATR) Name() string { return "ATR" }

func (a *ATR) Update(candle model.Candle) {
	a.win.push(candle)
	if len(a.win.closes) <= a.period {
		return
	}
	out := talib.Atr(a.win.highs, a.win.lows, a.win.closes, a.period)
	n := len(out)
	if n == 0 {
		return
	}
	a.current = out[n-1]
	a.ready = true
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.ready }

func (a *ATR) Peek(closePaise int64) float64 {
	if !a.ready {
		return 0
	}
	price := float64(closePaise) / 100.0
	highs, lows, closes := a.win.withClose(price)
	out := talib.Atr(highs, lows, closes, a.period)
	n := len(out)
	if n == 0 {
		return a.current
	}
	return out[n-1]
}

// ADX computes the Average Directional Index.
type ADX struct {
	period  int
	win     *window
	current float64
	ready   bool
}

func NewADX(period int) *ADX {
	return &ADX{period: period, win: newWindow(period*3 + 10)}
}

func (a *ADX) Name() string { return "ADX" }

func (a *ADX) Update(candle model.Candle) {
	a.win.push(candle)
	if len(a.win.closes) <= a.period*2 {
		return
	}
	out := talib.Adx(a.win.highs, a.win.lows, a.win.closes, a.period)
	n := len(out)
	if n == 0 {
		return
	}
	a.current = out[n-1]
	a.ready = true
}

func (a *ADX) Value() float64 { return a.current }
func (a *ADX) Ready() bool    { return a.ready }

func (a *ADX) Peek(closePaise int64) float64 {
	if !a.ready {
		return 0
	}
	price := float64(closePaise) / 100.0
	highs, lows, closes := a.win.withClose(price)
	out := talib.Adx(highs, lows, closes, a.period)
	n := len(out)
	if n == 0 {
		return a.current
	}
	return out[n-1]
}

// CCI computes the Commodity Channel Index.
type CCI struct {
	period  int
	win     *window
	current float64
	ready   bool
}

func NewCCI(period int) *CCI {
	return &CCI{period: period, win: newWindow(period*3 + 10)}
}

func (c *CCI) Name() string { return "CCI" }

func (c *CCI) Update(candle model.Candle) {
	c.win.push(candle)
	if len(c.win.closes) < c.period {
		return
	}
	out := talib.Cci(c.win.highs, c.win.lows, c.win.closes, c.period)
	n := len(out)
	if n == 0 {
		return
	}
	c.current = out[n-1]
	c.ready = true
}

func (c *CCI) Value() float64 { return c.current }
func (c *CCI) Ready() bool    { return c.ready }

func (c *CCI) Peek(closePaise int64) float64 {
	if !c.ready {
		return 0
	}
	price := float64(closePaise) / 100.0
	highs, lows, closes := c.win.withClose(price)
	out := talib.Cci(highs, lows, closes, c.period)
	n := len(out)
	if n == 0 {
		return c.current
	}
	return out[n-1]
}

// Stoch computes the Stochastic Oscillator, selected by Component ("k", "d").
type Stoch struct {
	fastK, slowK, slowD int
	component           string
	win                 *window
	k, d                float64
	ready               bool
}

// NewStoch creates a Stochastic Oscillator with the standard 14/3/3 periods.
func NewStoch(component string) *Stoch {
	if component == "" {
		component = "k"
	}
	return &Stoch{fastK: 14, slowK: 3, slowD: 3, component: component, win: newWindow(14 + 3 + 10)}
}

func (s *Stoch) Name() string {
	return "STOCH_" + itoaInd(s.fastK) + "_" + itoaInd(s.slowK) + "_" + itoaInd(s.slowD)
}

func (s *Stoch) Update(candle model.Candle) {
	s.win.push(candle)
	if len(s.win.closes) < s.fastK {
		return
	}
	k, d := talib.Stoch(s.win.highs, s.win.lows, s.win.closes, s.fastK, s.slowK, talib.SMA, s.slowD, talib.SMA)
	n := len(k)
	if n == 0 {
		return
	}
	s.k, s.d = k[n-1], d[n-1]
	s.ready = true
}

func (s *Stoch) Value() float64 {
	if s.component == "d" {
		return s.d
	}
	return s.k
}

func (s *Stoch) Ready() bool { return s.ready }

func (s *Stoch) Peek(closePaise int64) float64 {
	if !s.ready {
		return 0
	}
	price := float64(closePaise) / 100.0
	highs, lows, closes := s.win.withClose(price)
	k, d := talib.Stoch(highs, lows, closes, s.fastK, s.slowK, talib.SMA, s.slowD, talib.SMA)
	n := len(k)
	if n == 0 {
		return s.Value()
	}
	if s.component == "d" {
		return d[n-1]
	}
	return k[n-1]
}

// newIndicator builds an Indicator instance from a config. Falls back to a
// 20-period SMA for an unrecognized Type so a bad config never panics the
// engine. The fallback publishes as "SMA_" plus the configured Period, so
// the misconfigured type shows up only in the logged warning.
func newIndicator(ic IndicatorConfig) Indicator {
	switch ic.Type {
	case "SMA":
		return NewSMA(ic.Period)
	case "EMA":
		return NewEMA(ic.Period)
	case "SMMA":
		return NewSMMA(ic.Period)
	case "RSI":
		return NewRSI(ic.Period)
	case "MACD":
		return NewMACD(ic.Component)
	case "BBANDS":
		return NewBBands(ic.Period, ic.Component)
	case "ATR":
		return NewATR(ic.Period)
	case "ADX":
		return NewADX(ic.Period)
	case "CCI":
		return NewCCI(ic.Period)
	case "STOCH":
		return NewStoch(ic.Component)
	case "VWAP":
		return NewVWAP()
	case "OBV":
		return NewOBV()
	case "SUPPORT_RESISTANCE":
		return NewSupportResistance(ic.Period)
	case "PRICE_CHANGE_PCT":
		return NewPriceChangePct(ic.Period)
	case "VOLUME_SMA":
		return NewVolumeSMA(ic.Period)
	case "VOLUME_RATIO":
		return NewVolumeRatio(ic.Period)
	default:
		log.Printf("[indicator] unrecognized type %q, falling back to SMA_20", ic.Type)
		return NewSMA(20)
	}
}
