package dataset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/analysis"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/metrics"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/worker"
)

const (
	DefaultAnalysisTimeout = time.Minute
	retentionTimeout       = 30 * time.Second
	timeoutReason          = "analysis timed out"
	busyReason             = "analysis queue is full"
)

var (
	ErrAnalysisTimeout = errors.New(timeoutReason)
	ErrBusy            = errors.New("too many pending analyses")
)

// Upload is one dataset file submitted by an owner.
type Upload struct {
	OwnerID     int64
	Name        string
	Description string
	FileName    string
	Data        []byte
	Strict      bool
}

// Result is the outcome of an ingestion. Summary is nil unless the dataset
// was processed.
type Result struct {
	Dataset *models.Dataset
	Summary *models.DatasetSummary
	Evicted []int64
}

// Check is the outcome of validating a file without storing it.
type Check struct {
	FileType      string              `json:"file_type"`
	RowCount      int                 `json:"row_count"`
	ColumnCount   int                 `json:"column_count"`
	Columns       []string            `json:"columns"`
	ColumnMapping map[string]string   `json:"column_mapping"`
	Unresolved    []analysis.Role     `json:"unresolved_roles"`
	Preview       []map[string]string `json:"preview"`
}

// Pipeline turns uploads into processed datasets: validate, record, analyse,
// persist, then enforce the owner's retention limit.
type Pipeline struct {
	store     *Store
	history   *HistoryManager
	extractor *analysis.EquipmentExtractor
	workers   *worker.Manager
	metrics   *metrics.Metrics
	timeout   time.Duration
}

func NewPipeline(store *Store, history *HistoryManager, extractor *analysis.EquipmentExtractor, workers *worker.Manager, m *metrics.Metrics, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}
	return &Pipeline{
		store:     store,
		history:   history,
		extractor: extractor,
		workers:   workers,
		metrics:   m,
		timeout:   timeout,
	}
}

func (p *Pipeline) Store() *Store { return p.store }

func (p *Pipeline) History() *HistoryManager { return p.history }

// Validate reads and checks a file the way Ingest would, without creating a
// record.
func (p *Pipeline) Validate(fileName string, data []byte, strict bool) (*Check, error) {
	fileType, err := analysis.FileTypeFromName(fileName)
	if err != nil {
		return nil, err
	}
	table, err := analysis.ReadTable(fileType, data)
	if err != nil {
		return nil, err
	}
	if err := p.extractor.Validate(table, strict); err != nil {
		return nil, err
	}
	res := p.extractor.Resolver().Resolve(table.Header)
	return &Check{
		FileType:      fileType,
		RowCount:      table.NumRows(),
		ColumnCount:   table.NumColumns(),
		Columns:       append([]string(nil), table.Header...),
		ColumnMapping: res.StringMapping(),
		Unresolved:    res.Unresolved,
		Preview:       table.Preview(5),
	}, nil
}

// Ingest validates up, records it as pending and analyses it on the owner's
// worker queue. Validation failures return before any record exists. Once a
// record exists it ends up processed or failed; a failed outcome is returned
// together with a *analysis.ProcessingError.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*Result, error) {
	if up.OwnerID <= 0 {
		return nil, errors.New("owner is required")
	}
	fileType, err := analysis.FileTypeFromName(up.FileName)
	if err != nil {
		p.metrics.ObserveIngestion("rejected")
		return nil, err
	}

	rec := &models.Dataset{
		UserID:      up.OwnerID,
		Name:        displayName(up.Name, up.FileName),
		Description: strings.TrimSpace(up.Description),
		FileName:    filepath.Base(up.FileName),
		FileType:    fileType,
		FileSize:    int64(len(up.Data)),
	}

	table, err := analysis.ReadTable(fileType, up.Data)
	if err != nil {
		var verr *analysis.ValidationError
		if errors.As(err, &verr) {
			p.metrics.ObserveIngestion("rejected")
			return nil, err
		}
		// The file was accepted but could not be read: keep a failed record.
		return p.failBeforeAnalysis(ctx, rec, err)
	}

	if err := p.extractor.Validate(table, up.Strict); err != nil {
		p.metrics.ObserveIngestion("rejected")
		return nil, err
	}

	rec.RowCount = table.NumRows()
	rec.ColumnCount = table.NumColumns()
	rec.Columns = make([]models.ColumnInfo, 0, len(table.Header))
	for _, name := range table.Header {
		rec.Columns = append(rec.Columns, models.ColumnInfo{Name: name})
	}
	if err := p.store.CreatePending(ctx, rec); err != nil {
		return nil, err
	}
	debugLog("owner %d: dataset %d pending (%d rows)", up.OwnerID, rec.ID, rec.RowCount)

	// Keep going if the caller goes away; the record must not stay pending.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	out := make(chan jobOutcome, 1)
	err = p.workers.Do(jobCtx, up.OwnerID, func() {
		defer close(out)
		out <- p.process(jobCtx, rec.ID, up.OwnerID, table)
	})
	if errors.Is(err, worker.ErrDispatcherBusy) {
		p.finishFailed(rec.ID, busyReason)
		p.metrics.ObserveIngestion("busy")
		return nil, ErrBusy
	}
	if err != nil {
		// Deadline hit while the job is queued or running. Whichever status
		// update lands first wins; a late MarkProcessed is rejected.
		if ferr := p.finishFailed(rec.ID, timeoutReason); !errors.Is(ferr, ErrInvalidTransition) {
			return p.settle(up.OwnerID, rec.ID, nil)
		}
		// The job already settled the record: wait for its retention step.
	}

	res, ok := <-out
	if !ok {
		// the job panicked before reporting
		p.finishFailed(rec.ID, "analysis aborted")
		return p.settle(up.OwnerID, rec.ID, nil)
	}
	return p.settle(up.OwnerID, rec.ID, &res)
}

// settle reads back the final state of a dataset and turns a failed record
// into a *analysis.ProcessingError.
func (p *Pipeline) settle(ownerID, id int64, res *jobOutcome) (*Result, error) {
	var summary *models.DatasetSummary
	var evicted []int64
	if res != nil {
		summary, evicted = res.summary, res.evicted
	}
	out, err := p.reload(ownerID, id, summary, evicted)
	if err != nil {
		p.metrics.ObserveIngestion("failed")
		if res != nil && res.err != nil {
			return nil, res.err
		}
		return nil, err
	}
	switch out.Dataset.Status {
	case models.StatusProcessed:
		p.metrics.ObserveIngestion("processed")
		return out, nil
	case models.StatusFailed:
		p.metrics.ObserveIngestion("failed")
		if res != nil && res.err != nil && !errors.Is(res.err, ErrInvalidTransition) {
			return out, res.err
		}
		cause := ErrAnalysisTimeout
		if out.Dataset.ErrorMessage != timeoutReason {
			cause = errors.New(out.Dataset.ErrorMessage)
		}
		return out, &analysis.ProcessingError{Err: cause}
	}
	return nil, fmt.Errorf("dataset %d left %s", id, out.Dataset.Status)
}

type jobOutcome struct {
	summary *models.DatasetSummary
	evicted []int64
	err     error
}

// process runs on a worker: analyse, persist atomically, then evict.
func (p *Pipeline) process(ctx context.Context, id, ownerID int64, table *analysis.Table) jobOutcome {
	started := time.Now()
	summary, err := p.extractor.Analyze(table)
	p.metrics.ObserveAnalysis(time.Since(started))
	if err != nil {
		perr := &analysis.ProcessingError{Err: err}
		if ferr := p.store.MarkFailed(ctx, id, perr.Error()); ferr != nil {
			log.Printf("mark dataset %d failed: %v", id, ferr)
		}
		return jobOutcome{err: perr}
	}
	if ctx.Err() != nil {
		p.finishFailed(id, timeoutReason)
		return jobOutcome{err: &analysis.ProcessingError{Err: ErrAnalysisTimeout}}
	}

	summary.DatasetID = id
	summary.CreatedAt = time.Now().UTC()
	if err := p.store.MarkProcessed(ctx, id, summary); err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			log.Printf("persist dataset %d: %v", id, err)
			p.finishFailed(id, "could not store analysis results")
		}
		return jobOutcome{err: &analysis.ProcessingError{Err: err}}
	}

	evicted, err := p.enforceRetention(ownerID)
	if err != nil {
		log.Printf("enforce retention for owner %d: %v", ownerID, err)
		p.retryRetention(ownerID)
	}
	return jobOutcome{summary: summary, evicted: evicted}
}

// enforceRetention runs once MarkProcessed has committed, so it gets its own
// deadline instead of the analysis one.
func (p *Pipeline) enforceRetention(ownerID int64) ([]int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), retentionTimeout)
	defer cancel()
	return p.history.Enforce(ctx, ownerID)
}

// retryRetention queues another Enforce for the owner behind its pending jobs.
func (p *Pipeline) retryRetention(ownerID int64) {
	err := p.workers.Go(ownerID, func() {
		if _, err := p.enforceRetention(ownerID); err != nil {
			log.Printf("retry retention for owner %d: %v", ownerID, err)
		}
	})
	if err != nil {
		log.Printf("queue retention retry for owner %d: %v", ownerID, err)
	}
}

func (p *Pipeline) failBeforeAnalysis(ctx context.Context, rec *models.Dataset, cause error) (*Result, error) {
	perr := &analysis.ProcessingError{Err: cause}
	if err := p.store.CreatePending(ctx, rec); err != nil {
		return nil, err
	}
	if err := p.store.MarkFailed(ctx, rec.ID, perr.Error()); err != nil {
		return nil, err
	}
	p.metrics.ObserveIngestion("failed")
	failed, err := p.reload(rec.UserID, rec.ID, nil, nil)
	if err != nil {
		return nil, perr
	}
	return failed, perr
}

// finishFailed marks a record failed outside the request context.
func (p *Pipeline) finishFailed(id int64, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.store.MarkFailed(ctx, id, reason)
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		log.Printf("mark dataset %d failed: %v", id, err)
	}
	return err
}

func (p *Pipeline) reload(ownerID, id int64, summary *models.DatasetSummary, evicted []int64) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := p.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("reload dataset %d: %w", id, err)
	}
	if summary == nil && rec.Status == models.StatusProcessed {
		summary, err = p.store.GetSummary(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
	}
	return &Result{Dataset: rec, Summary: summary, Evicted: evicted}, nil
}

func displayName(name, fileName string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
