// Package importer records offline pledges from CSV files through the
// donation ledger. Files are processed by a worker pool and moved aside once
// done; Watch picks up new files as they land.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"donatenow/identity"
	"donatenow/ledger"
	"donatenow/logging"

	"github.com/fsnotify/fsnotify"
)

// Header is the expected first row of every pledge file.
var Header = []string{"cause_id", "amount", "name", "message", "place"}

// ProcessedDir is where finished files are moved, relative to the scanned dir.
const ProcessedDir = "processed"

// RetrySuffix names the file holding rows that failed for transient reasons.
// Watch ignores these; the next ScanDir picks them up.
const RetrySuffix = ".retry.csv"

// Donator is the part of the ledger the importer needs.
type Donator interface {
	Donate(ctx context.Context, causeID uint, in ledger.DonationInput, p *identity.Principal) (*ledger.DonateResult, error)
}

// Pledge is one parsed CSV row.
type Pledge struct {
	Line    int
	CauseID uint
	Input   ledger.DonationInput
	Record  []string
}

// Result summarizes one imported file. Errors are permanent rejections;
// Retry counts rows written to RetryFile.
type Result struct {
	File      string
	Imported  int
	Closed    int
	Errors    []error
	Retry     int
	RetryFile string
}

// ParseCSV reads pledges from r. Bad rows are reported individually and do
// not stop the rest of the file.
func ParseCSV(r io.Reader) ([]Pledge, []error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, []error{fmt.Errorf("read header: %w", err)}
	}
	if !validHeader(head) {
		return nil, []error{fmt.Errorf("unexpected header %v, want %v", head, Header)}
	}

	var (
		out  []Pledge
		errs []error
		line = 1
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		p, err := parseRecord(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		p.Line = line
		p.Record = rec
		out = append(out, p)
	}
	return out, errs
}

func validHeader(head []string) bool {
	if len(head) < 2 {
		return false
	}
	for i, h := range head {
		if i >= len(Header) || !strings.EqualFold(strings.TrimSpace(h), Header[i]) {
			return false
		}
	}
	return true
}

func parseRecord(rec []string) (Pledge, error) {
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	id, err := strconv.ParseUint(field(0), 10, 64)
	if err != nil || id == 0 {
		return Pledge{}, fmt.Errorf("invalid cause_id %q", field(0))
	}
	amount, err := ledger.ParseAmount(field(1))
	if err != nil {
		return Pledge{}, fmt.Errorf("amount %q: %w", field(1), err)
	}
	return Pledge{
		CauseID: uint(id),
		Input: ledger.DonationInput{
			Amount:  amount,
			Name:    field(2),
			Message: field(3),
			Place:   field(4),
		},
	}, nil
}

// Importer feeds pledge files into the ledger.
type Importer struct {
	svc      Donator
	workers  int
	debounce time.Duration
}

// New returns an Importer; workers <= 0 means NumCPU.
func New(svc Donator, workers int) *Importer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Importer{svc: svc, workers: workers, debounce: 300 * time.Millisecond}
}

// ImportFile records every valid row of path and moves the file into the
// processed directory next to it. Rows that failed for transient reasons, or
// were never attempted because ctx ended, go to a retry file beside path so
// nothing is lost and nothing committed is replayed.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	res := Result{File: filepath.Base(path)}
	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	pledges, perrs := ParseCSV(f)
	f.Close()
	res.Errors = append(res.Errors, perrs...)

	out := im.runWorkerPool(ctx, pledges)
	res.Imported, res.Closed = out.imported, out.closed
	res.Errors = append(res.Errors, out.errs...)

	if len(out.retry) > 0 {
		res.RetryFile = retryPath(path)
		res.Retry = len(out.retry)
		if err := saveRetry(path, res.RetryFile, out.retry); err != nil {
			return res, fmt.Errorf("write retry file: %w", err)
		}
		logging.Warn().Str("file", res.File).Str("retry_file", res.RetryFile).Int("rows", res.Retry).Msg("pledges deferred for retry")
	} else if err := moveProcessed(path); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	logging.Info().
		Str("file", res.File).
		Int("imported", res.Imported).
		Int("closed", res.Closed).
		Int("rejected", len(res.Errors)).
		Int("retry", res.Retry).
		Msg("pledge file imported")
	for _, e := range res.Errors {
		logging.Warn().Str("file", res.File).Err(e).Msg("pledge rejected")
	}
	return res, nil
}

// ScanDir imports every pending CSV file in dir, in name order.
func (im *Importer) ScanDir(ctx context.Context, dir string) ([]Result, error) {
	files, err := listCSVFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(files))
	for _, name := range files {
		res, err := im.ImportFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return out, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, res)
	}
	return out, nil
}

type poolResult struct {
	imported int
	closed   int
	errs     []error
	retry    []Pledge
}

// transient reports failures worth another attempt later.
func transient(err error) bool {
	return errors.Is(err, ledger.ErrStorageUnavailable) || errors.Is(err, ledger.ErrStorageConflict)
}

// runWorkerPool donates the pledges concurrently. Rows hitting the same
// cause are serialized by the ledger, not here.
func (im *Importer) runWorkerPool(ctx context.Context, pledges []Pledge) poolResult {
	ch := make(chan Pledge)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out poolResult
	)
	for i := 0; i < im.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range ch {
				r, err := im.svc.Donate(ctx, p.CauseID, p.Input, nil)
				mu.Lock()
				switch {
				case err == nil:
					out.imported++
					if r.GoalReached {
						out.closed++
					}
				case transient(err):
					out.retry = append(out.retry, p)
				default:
					out.errs = append(out.errs, fmt.Errorf("line %d: %w", p.Line, err))
				}
				mu.Unlock()
			}
		}()
	}
	fed := 0
feed:
	for _, p := range pledges {
		select {
		case ch <- p:
			fed++
		case <-ctx.Done():
			break feed
		}
	}
	close(ch)
	wg.Wait()
	out.retry = append(out.retry, pledges[fed:]...)
	sort.Slice(out.retry, func(i, j int) bool { return out.retry[i].Line < out.retry[j].Line })
	return out
}

// Watch imports files already in dir, then every CSV file created later,
// until ctx is done. A file is picked up once it has been quiet for the
// debounce interval.
func (im *Importer) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	if _, err := im.ScanDir(ctx, dir); err != nil {
		logging.Error().Err(err).Str("dir", dir).Msg("initial scan failed")
	}
	logging.Info().Str("dir", dir).Msg("watching for pledge files")

	pending := map[string]time.Time{}
	ticker := time.NewTicker(im.debounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isCSV(ev.Name) || isRetry(ev.Name) {
				continue
			}
			pending[filepath.Base(ev.Name)] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) < im.debounce {
					continue
				}
				delete(pending, name)
				path := filepath.Join(dir, name)
				if _, err := os.Stat(path); err != nil {
					continue
				}
				if _, err := im.ImportFile(ctx, path); err != nil {
					logging.Error().Err(err).Str("file", name).Msg("import failed")
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Warn().Err(err).Msg("watch error")
		}
	}
}

func listCSVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isCSV(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

func isRetry(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), RetrySuffix)
}

// retryPath maps batch.csv and batch.retry.csv alike to batch.retry.csv.
func retryPath(path string) string {
	base := filepath.Base(path)
	if isRetry(base) {
		base = base[:len(base)-len(RetrySuffix)]
	} else {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return filepath.Join(filepath.Dir(path), base+RetrySuffix)
}

// saveRetry records rows for a later run and moves src aside. An existing
// retry file for another source is appended to. When src is itself the retry
// file, the new rows are staged and swapped in after src has moved. src stays
// in place if anything fails, since it is then the only record of the rows.
func saveRetry(src, dst string, rows []Pledge) error {
	if dst != src {
		if _, err := os.Stat(dst); err == nil {
			if err := appendRows(dst, rows); err != nil {
				return err
			}
			return moveProcessed(src)
		}
	}
	tmp := dst + ".tmp"
	if err := writeRows(tmp, rows); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := moveProcessed(src); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func writeRows(path string, rows []Pledge) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return flushRows(f, append([][]string{Header}, records(rows)...))
}

func appendRows(path string, rows []Pledge) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	return flushRows(f, records(rows))
}

func flushRows(f *os.File, recs [][]string) error {
	w := csv.NewWriter(f)
	if err := w.WriteAll(recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func records(rows []Pledge) [][]string {
	out := make([][]string, 0, len(rows))
	for _, p := range rows {
		out = append(out, p.Record)
	}
	return out
}
