package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/model"
)

// FileStore keeps the ledger as a JSON document on disk. Writes go to a
// temporary file in the same directory which is then renamed over the
// document, so readers never observe a partial write.
type FileStore struct {
	path string
}

// document is the on-disk layout. Money is written as JSON numbers and
// timestamps as unix seconds.
type document struct {
	TotalDeposited  json.Number            `json:"total_deposited"`
	StartDate       json.Number            `json:"start_date"`
	HistoricalSpend json.Number            `json:"historical_spend"`
	MonthlyHistory  map[string]json.Number `json:"monthly_history"`
	LastAlertSent   json.Number            `json:"last_alert_sent"`
}

// NewFileStore returns a store for the document at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Name returns the document path.
func (s *FileStore) Name() string { return s.path }

// Close is a no-op; the file is not held open between calls.
func (s *FileStore) Close() error { return nil }

// Load reads and decodes the document.
func (s *FileStore) Load(_ context.Context) (model.Ledger, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Ledger{}, ErrNotFound
		}
		return model.Ledger{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.Ledger{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	l, err := doc.ledger()
	if err != nil {
		return model.Ledger{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return l, nil
}

// Save encodes l and atomically replaces the document.
func (s *FileStore) Save(_ context.Context, l model.Ledger) error {
	data, err := json.MarshalIndent(newDocument(l), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}

func newDocument(l model.Ledger) document {
	doc := document{
		TotalDeposited:  json.Number(l.TotalDeposited.String()),
		StartDate:       unixNumber(l.Checkpoint),
		HistoricalSpend: json.Number(l.HistoricalSpend.String()),
		MonthlyHistory:  make(map[string]json.Number, len(l.MonthlyHistory)),
		LastAlertSent:   unixNumber(l.LastAlertSent),
	}
	for month, amount := range l.MonthlyHistory {
		doc.MonthlyHistory[month] = json.Number(amount.String())
	}
	return doc
}

func (d document) ledger() (model.Ledger, error) {
	var (
		l   model.Ledger
		err error
	)
	if l.TotalDeposited, err = parseDecimal(d.TotalDeposited); err != nil {
		return l, fmt.Errorf("total_deposited: %w", err)
	}
	if l.HistoricalSpend, err = parseDecimal(d.HistoricalSpend); err != nil {
		return l, fmt.Errorf("historical_spend: %w", err)
	}
	if l.Checkpoint, err = parseUnix(d.StartDate); err != nil {
		return l, fmt.Errorf("start_date: %w", err)
	}
	if l.LastAlertSent, err = parseUnix(d.LastAlertSent); err != nil {
		return l, fmt.Errorf("last_alert_sent: %w", err)
	}

	l.MonthlyHistory = make(map[string]decimal.Decimal, len(d.MonthlyHistory))
	for month, n := range d.MonthlyHistory {
		v, err := parseDecimal(n)
		if err != nil {
			return l, fmt.Errorf("monthly_history[%s]: %w", month, err)
		}
		l.MonthlyHistory[month] = v
	}
	return l, nil
}

func parseDecimal(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

// parseUnix accepts integer seconds and the fractional seconds older
// documents stored for last_alert_sent. Zero means unset.
func parseUnix(n json.Number) (time.Time, error) {
	if n == "" {
		return time.Time{}, nil
	}
	if i, err := n.Int64(); err == nil {
		if i == 0 {
			return time.Time{}, nil
		}
		return time.Unix(i, 0).UTC(), nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return time.Time{}, err
	}
	if f == 0 {
		return time.Time{}, nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func unixNumber(t time.Time) json.Number {
	if t.IsZero() {
		return "0"
	}
	return json.Number(strconv.FormatInt(t.Unix(), 10))
}
