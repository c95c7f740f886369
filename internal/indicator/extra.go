package indicator

import (
	"gonum.org/v1/gonum/floats"

	"tradingcore/internal/model"
)

// VWAP calculates the session Volume Weighted Average Price.
// Resets when TS rolls over to a new trading day, matching other indicators'
// candle TS being UTC-normalized second boundaries.
type VWAP struct {
	day          int64 // Unix day (TS.Unix() / 86400) of the current accumulation
	cumPV        float64
	cumVol       float64
	current      float64
	count        int
}

// NewVWAP creates a new session VWAP indicator.
func NewVWAP() *VWAP {
	return &VWAP{}
}

func (v *VWAP) Name() string { return "VWAP" }

func (v *VWAP) Update(candle model.Candle) {
	day := candle.TS.Unix() / 86400
	if day != v.day {
		v.day = day
		v.cumPV = 0
		v.cumVol = 0
	}

	typical := (float64(candle.High) + float64(candle.Low) + float64(candle.Close)) / 3.0 / 100.0
	vol := float64(candle.Volume)

	v.cumPV += typical * vol
	v.cumVol += vol
	v.count++

	if v.cumVol > 0 {
		v.current = v.cumPV / v.cumVol
	}
}

func (v *VWAP) Value() float64 { return v.current }
func (v *VWAP) Ready() bool    { return v.cumVol > 0 }

// Peek previews VWAP with an additional close price at zero added volume —
// VWAP needs volume to move, so a close-only preview returns the current value.
func (v *VWAP) Peek(closePaise int64) float64 {
	return v.current
}

// OBV calculates On-Balance Volume — a running total of volume signed by
// the direction of price change between consecutive candles.
type OBV struct {
	prevClose float64
	current   float64
	count     int
}

// NewOBV creates a new OBV indicator.
func NewOBV() *OBV {
	return &OBV{}
}

func (o *OBV) Name() string { return "OBV" }

func (o *OBV) Update(candle model.Candle) {
	price := float64(candle.Close) / 100.0
	vol := float64(candle.Volume)
	o.count++

	if o.count == 1 {
		o.prevClose = price
		o.current = vol
		return
	}

	switch {
	case price > o.prevClose:
		o.current += vol
	case price < o.prevClose:
		o.current -= vol
	}
	o.prevClose = price
}

func (o *OBV) Value() float64 { return o.current }
func (o *OBV) Ready() bool    { return o.count > 0 }

func (o *OBV) Peek(closePaise int64) float64 {
	if o.count == 0 {
		return 0
	}
	price := float64(closePaise) / 100.0
	switch {
	case price > o.prevClose:
		return o.current + 1 // volume for the forming candle isn't known yet — direction only
	case price < o.prevClose:
		return o.current - 1
	default:
		return o.current
	}
}

// SupportResistance tracks the rolling high (resistance) and low (support)
// over a trailing window of candles, using a circular buffer like SMA.
type SupportResistance struct {
	period  int
	highBuf []float64
	lowBuf  []float64
	idx     int
	count   int
	support float64
	resist  float64
}

// NewSupportResistance creates a rolling support/resistance indicator.
// Value() returns resistance (the rolling high); Support() returns the low.
func NewSupportResistance(period int) *SupportResistance {
	return &SupportResistance{
		period:  period,
		highBuf: make([]float64, period),
		lowBuf:  make([]float64, period),
	}
}

func (s *SupportResistance) Name() string { return "SUPPORT_RESISTANCE" }

func (s *SupportResistance) Update(candle model.Candle) {
	s.highBuf[s.idx] = float64(candle.High) / 100.0
	s.lowBuf[s.idx] = float64(candle.Low) / 100.0
	s.idx = (s.idx + 1) % s.period
	if s.count < s.period {
		s.count++
	}
	s.recompute()
}

func (s *SupportResistance) recompute() {
	n := s.count
	if n == 0 {
		return
	}
	s.resist = floats.Max(s.highBuf[:n])
	s.support = floats.Min(s.lowBuf[:n])
}

// Value returns the rolling resistance level (window high).
func (s *SupportResistance) Value() float64 { return s.resist }

// Support returns the rolling support level (window low).
func (s *SupportResistance) Support() float64 { return s.support }

func (s *SupportResistance) Ready() bool { return s.count >= s.period }

func (s *SupportResistance) Peek(closePaise int64) float64 {
	// A close preview alone can't move a high/low window meaningfully
	// without the forming candle's own high/low — return current resistance.
	return s.resist
}

// VolumeSMA calculates a Simple Moving Average over candle volume instead
// of close price, using the same preallocated circular buffer as SMA.
type VolumeSMA struct {
	period  int
	buf     []float64
	idx     int
	count   int
	sum     float64
	current float64
}

// NewVolumeSMA creates a new volume SMA indicator with the given period.
func NewVolumeSMA(period int) *VolumeSMA {
	return &VolumeSMA{period: period, buf: make([]float64, period)}
}

func (v *VolumeSMA) Name() string { return "VOLUME_SMA" }

func (v *VolumeSMA) Update(candle model.Candle) {
	vol := float64(candle.Volume)
	if v.count >= v.period {
		v.sum -= v.buf[v.idx]
	}
	v.buf[v.idx] = vol
	v.sum += vol
	v.idx = (v.idx + 1) % v.period
	v.count++
	if v.count >= v.period {
		v.current = v.sum / float64(v.period)
	}
}

func (v *VolumeSMA) Value() float64 { return v.current }
func (v *VolumeSMA) Ready() bool    { return v.count >= v.period }

// Peek previews volume SMA with an unchanged volume — a forming candle's
// closing volume isn't known until it finalizes, so this just returns the
// current value.
func (v *VolumeSMA) Peek(closePaise int64) float64 { return v.current }

// VolumeRatio is the ratio of the latest candle's volume to its trailing
// VOLUME_SMA — values above 1 flag above-average participation.
type VolumeRatio struct {
	sma        *VolumeSMA
	lastVolume float64
	current    float64
}

// NewVolumeRatio creates a volume-ratio indicator over the given period.
func NewVolumeRatio(period int) *VolumeRatio {
	return &VolumeRatio{sma: NewVolumeSMA(period)}
}

func (r *VolumeRatio) Name() string { return "VOLUME_RATIO" }

func (r *VolumeRatio) Update(candle model.Candle) {
	r.lastVolume = float64(candle.Volume)
	r.sma.Update(candle)
	if r.sma.Ready() && r.sma.Value() > 0 {
		r.current = r.lastVolume / r.sma.Value()
	}
}

func (r *VolumeRatio) Value() float64 { return r.current }
func (r *VolumeRatio) Ready() bool    { return r.sma.Ready() }

func (r *VolumeRatio) Peek(closePaise int64) float64 {
	if !r.sma.Ready() || r.sma.Value() == 0 {
		return r.current
	}
	return r.lastVolume / r.sma.Value()
}

// PriceChangePct calculates the percentage price change over a trailing
// window of N candles: (close_now - close_N_ago) / close_N_ago * 100.
type PriceChangePct struct {
	period int
	buf    []float64
	idx    int
	count  int
	latest float64
}

// NewPriceChangePct creates a trailing percentage price-change indicator.
func NewPriceChangePct(period int) *PriceChangePct {
	return &PriceChangePct{period: period, buf: make([]float64, period)}
}

func (p *PriceChangePct) Name() string { return "PRICE_CHANGE_PCT" }

func (p *PriceChangePct) Update(candle model.Candle) {
	price := float64(candle.Close) / 100.0

	if p.count >= p.period {
		base := p.buf[p.idx]
		if base != 0 {
			p.latest = (price - base) / base * 100.0
		}
	}

	p.buf[p.idx] = price
	p.idx = (p.idx + 1) % p.period
	if p.count < p.period {
		p.count++
	}
}

func (p *PriceChangePct) Value() float64 { return p.latest }
func (p *PriceChangePct) Ready() bool    { return p.count >= p.period }

func (p *PriceChangePct) Peek(closePaise int64) float64 {
	if p.count < p.period {
		return p.latest
	}
	price := float64(closePaise) / 100.0
	base := p.buf[p.idx]
	if base == 0 {
		return p.latest
	}
	return (price - base) / base * 100.0
}
