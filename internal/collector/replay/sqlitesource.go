package replay

import (
	sqlitestore "tradingcore/internal/store/sqlite"
)

// SQLiteSource adapts the durable SQLite reader (the candle history every
// live run already accumulates) into a replay.Source, so a backtest can
// replay any previously recorded session without a separate data export
// step.
type SQLiteSource struct {
	reader *sqlitestore.Reader
	tfs    []int
	fromTS int64
}

// NewSQLiteSource reads every enabled timeframe's candles recorded after
// fromTS (Unix seconds; 0 = from the beginning).
func NewSQLiteSource(reader *sqlitestore.Reader, tfs []int, fromTS int64) *SQLiteSource {
	return &SQLiteSource{reader: reader, tfs: tfs, fromTS: fromTS}
}

// Bars loads every TF candle across the configured timeframes and
// collapses them into Bar values. Only the finest configured timeframe is
// used for tick synthesis — coarser timeframes are redundant once the
// candle builder re-aggregates from ticks, so including them would double
// count volume.
func (s *SQLiteSource) Bars() ([]Bar, error) {
	if len(s.tfs) == 0 {
		return nil, nil
	}
	finest := s.tfs[0]
	for _, tf := range s.tfs[1:] {
		if tf < finest {
			finest = tf
		}
	}

	candles, err := s.reader.ReadAllTFCandles(finest, s.fromTS)
	if err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, Bar{
			Instrument: c.Key(),
			TS:         c.TS,
			Open:       c.Open,
			High:       c.High,
			Low:        c.Low,
			Close:      c.Close,
			Volume:     c.Volume,
		})
	}
	return bars, nil
}
