package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CSVSource replays bars from a flat file: instrument,ts_unix,open,high,low,close,volume
// (prices in paise). It needs no Angel One credentials. No cmd/*
// entrypoint constructs it: cmd/backtest and cmd/mdengine replay from
// SQLiteSource.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Bars() ([]Bar, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 7

	var bars []Bar
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv source: %w", err)
		}
		ts, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseInt(rec[2], 10, 64)
		high, _ := strconv.ParseInt(rec[3], 10, 64)
		low, _ := strconv.ParseInt(rec[4], 10, 64)
		close_, _ := strconv.ParseInt(rec[5], 10, 64)
		vol, _ := strconv.ParseInt(rec[6], 10, 64)

		bars = append(bars, Bar{
			Instrument: rec[0],
			TS:         time.Unix(ts, 0).UTC(),
			Open:       open, High: high, Low: low, Close: close_,
			Volume: vol,
		})
	}
	return bars, nil
}
