package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/types"
	"bourse/internal/utils"
)

const defaultLoaderWorkers = 4

// row is one parsed CSV record, quote-shaped or dividend-shaped depending on
// which fields are populated.
type row struct {
	timestamp      types.Timestamp
	symbol         types.Symbol
	bid, ask       float64
	isDividend     bool
	perShareAmount float64
	bidSizes       []float64
	askSizes       []float64
	hasDepth       bool
}

// LoadCSV reads a dataset file of the shape spec.md §6 describes: either
// `timestamp,symbol,bid,ask[,bid_sizes...,ask_sizes...]` or
// `timestamp,symbol,dividend,<per_share_amount>`. Parsing of individual lines
// is fanned out across a worker pool (internal/utils.WorkerPool) since a
// dataset file can be large and line parsing is embarrassingly parallel.
// Each worker merges its parsed rows into the shared Builder while holding
// one mutex, so Builder's maps are never written concurrently.
func LoadCSV(path string) (*InMemory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset file: %w", err)
	}
	defer f.Close()

	lines, err := readLines(f)
	if err != nil {
		return nil, fmt.Errorf("reading dataset file: %w", err)
	}

	builder := NewBuilder()
	if len(lines) == 0 {
		return builder.Build(), nil
	}

	const chunkSize = 512
	var mu sync.Mutex
	var firstErr error

	pool := utils.NewWorkerPool(defaultLoaderWorkers)
	t := new(tomb.Tomb)
	pool.Run(t, func(_ *tomb.Tomb, task any) error {
		chunk := task.([]string)
		parsed, err := parseChunk(chunk)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		for _, r := range parsed {
			applyRow(builder, r)
		}
		return nil
	})

	for i := 0; i < len(lines); i += chunkSize {
		end := min(i+chunkSize, len(lines))
		pool.AddTask(append([]string(nil), lines[i:end]...))
	}
	pool.Close()
	if err := t.Wait(); err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}
	if firstErr != nil {
		return nil, firstErr
	}

	log.Info().Str("path", path).Int("lines", len(lines)).Msg("dataset loaded")
	return builder.Build(), nil
}

func readLines(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var lines []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, strings.Join(record, ","))
	}
	return lines, nil
}

func applyRow(b *Builder, r row) {
	if r.isDividend {
		b.AddDividend(types.Dividend{
			Symbol:         r.symbol,
			Timestamp:      r.timestamp,
			PerShareAmount: r.perShareAmount,
		})
		return
	}
	if r.hasDepth {
		b.AddDepth(levelsToDepth(r))
		return
	}
	b.AddQuote(types.Quote{
		Symbol:    r.symbol,
		Timestamp: r.timestamp,
		Bid:       r.bid,
		Ask:       r.ask,
	})
}

func levelsToDepth(r row) types.Depth {
	d := types.Depth{Symbol: r.symbol, Timestamp: r.timestamp}
	d.Bids = append(d.Bids, types.Level{Price: r.bid, Size: 0})
	d.Asks = append(d.Asks, types.Level{Price: r.ask, Size: 0})
	for i := 0; i < len(r.bidSizes) && i < len(r.askSizes); i++ {
		if i < len(d.Bids) {
			d.Bids[i].Size = r.bidSizes[i]
		}
		if i < len(d.Asks) {
			d.Asks[i].Size = r.askSizes[i]
		}
	}
	return d
}

func parseChunk(lines []string) ([]row, error) {
	rows := make([]row, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			return nil, fmt.Errorf("malformed dataset row %q: too few fields", line)
		}
		ts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed timestamp in row %q: %w", line, err)
		}
		r := row{timestamp: types.Timestamp(ts), symbol: types.Symbol(fields[1])}

		if strings.EqualFold(fields[2], "dividend") {
			if len(fields) < 4 {
				return nil, fmt.Errorf("malformed dividend row %q", line)
			}
			amount, err := strconv.ParseFloat(fields[3], 64)
			if err != nil {
				return nil, fmt.Errorf("malformed dividend amount in row %q: %w", line, err)
			}
			r.isDividend = true
			r.perShareAmount = amount
			rows = append(rows, r)
			continue
		}

		if len(fields) < 4 {
			return nil, fmt.Errorf("malformed quote row %q: missing ask", line)
		}
		bid, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed bid in row %q: %w", line, err)
		}
		ask, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed ask in row %q: %w", line, err)
		}
		r.bid, r.ask = bid, ask

		if len(fields) > 4 {
			rest := fields[4:]
			half := len(rest) / 2
			bidSizes, err := parseFloats(rest[:half])
			if err != nil {
				return nil, fmt.Errorf("malformed bid sizes in row %q: %w", line, err)
			}
			askSizes, err := parseFloats(rest[half:])
			if err != nil {
				return nil, fmt.Errorf("malformed ask sizes in row %q: %w", line, err)
			}
			r.bidSizes, r.askSizes, r.hasDepth = bidSizes, askSizes, true
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
