package deliverynote

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sony/micro-delivery-ingest/mailbox"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// CycleReport summarizes one poll cycle or backlog run.
type CycleReport struct {
	ID         string                                 `json:"id"`
	Started    time.Time                              `json:"started"`
	Messages   int                                    `json:"messages"`
	Matched    int                                    `json:"matched"`
	Handled    int                                    `json:"handled"`
	Files      int                                    `json:"files"`
	FailedFile int                                    `json:"failed-files"`
	Records    map[string]int                         `json:"records"`
	Committed  map[string]Date                        `json:"committed"`
	Deliveries map[string]map[string][]ShipmentRecord `json:"-"`
}

// Coordinator runs poll cycles: fetch unread mail, match rules, save and
// extract attachments, emit records past the watermark, archive, mark read.
// At most one cycle runs at a time.
type Coordinator struct {
	logger    *zap.SugaredLogger
	gateway   mailbox.Gateway
	matcher   *Matcher
	tracker   *Tracker
	store     *AttachmentStore
	extractor *Extractor
	emitter   *Emitter
	handoff   Handoff
	metrics   *Metrics
	guard     *semaphore.Weighted
}

// NewCoordinator wires a coordinator.  handoff and metrics may be nil.
func NewCoordinator(logger *zap.SugaredLogger, gw mailbox.Gateway, matcher *Matcher, tracker *Tracker, handoff Handoff, metrics *Metrics) *Coordinator {
	if handoff == nil {
		handoff = nopHandoff{}
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Coordinator{
		logger:    logger,
		gateway:   gw,
		matcher:   matcher,
		tracker:   tracker,
		store:     NewAttachmentStore(logger),
		extractor: NewExtractor(logger),
		emitter:   NewEmitter(logger),
		handoff:   handoff,
		metrics:   metrics,
		guard:     semaphore.NewWeighted(1),
	}
}

type emitKey struct {
	vendor string
	date   int
}

type emission struct {
	vendor  string
	date    Date
	dir     string
	path    string
	records []ShipmentRecord
}

// cycleState is everything one cycle accumulates.  It is created per cycle
// and passed down, never shared.
type cycleState struct {
	logger    *zap.SugaredLogger
	processed map[string]bool // subjects handled this cycle
	emitted   map[emitKey]*emission
	order     []emitKey
	pending   map[string]Date // highest date emitted per vendor
	blocked   map[string]bool // vendors with a failed emission
	report    *CycleReport
}

func (c *Coordinator) newCycleState() *cycleState {
	id := uuid.NewString()
	return &cycleState{
		logger:    c.logger.With("cycle", id),
		processed: map[string]bool{},
		emitted:   map[emitKey]*emission{},
		pending:   map[string]Date{},
		blocked:   map[string]bool{},
		report: &CycleReport{
			ID:         id,
			Started:    time.Now(),
			Records:    map[string]int{},
			Committed:  map[string]Date{},
			Deliveries: map[string]map[string][]ShipmentRecord{},
		},
	}
}

// RunCycle processes all unread messages once.  It returns
// ErrCycleInProgress if another cycle or backlog run is active, and an
// error marked ErrConnection if the mailbox cannot be reached or listed.
// Failures of single messages or files are logged, never returned.
func (c *Coordinator) RunCycle(ctx context.Context) (report *CycleReport, err error) {
	if !c.guard.TryAcquire(1) {
		c.metrics.Cycles.WithLabelValues("busy").Inc()
		return nil, errors.WithStack(ErrCycleInProgress)
	}
	defer c.guard.Release(1)

	st := c.newCycleState()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.metrics.ObserveCycle(st.report.Started, result)
	}()

	if err := c.tracker.Begin(ctx); err != nil {
		return nil, err
	}

	defer func() {
		if err := c.gateway.Disconnect(); err != nil {
			st.logger.Warnw("failed to disconnect from mailbox",
				"error", err)
		}
	}()
	if err := c.gateway.Connect(ctx); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "connect to mailbox"), ErrConnection)
	}

	headers, err := c.gateway.ListUnread(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list unread messages"), ErrConnection)
	}
	st.report.Messages = len(headers)
	st.logger.Infow("poll cycle started",
		"unread", len(headers))

	for _, h := range headers {
		if ctx.Err() != nil {
			st.logger.Warnw("poll cycle cancelled",
				"error", ctx.Err())
			break
		}
		c.handleMessage(ctx, st, h)
	}

	c.finish(ctx, st)
	return st.report, nil
}

// handleMessage runs one message through match, download, extract, emit
// and mark-read.  It never panics.
func (c *Coordinator) handleMessage(ctx context.Context, st *cycleState, h mailbox.Header) {
	logger := st.logger.With("id", h.ID, "subject", h.Subject)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic while handling message",
				"panic", r)
			c.metrics.Messages.WithLabelValues("failed").Inc()
		}
	}()

	if st.processed[h.Subject] {
		logger.Infow("skipping subject already handled in this cycle")
		c.metrics.Messages.WithLabelValues("duplicate").Inc()
		return
	}
	rule := c.matcher.Match(h)
	if rule == nil {
		logger.Debugw("no rule matches message",
			"sender", h.Sender,
			"recipient", h.Recipient)
		c.metrics.Messages.WithLabelValues("unmatched").Inc()
		return
	}
	st.processed[h.Subject] = true
	st.report.Matched++
	logger = logger.With("rule", rule.Name)

	msg := mailbox.NewMessage(h)
	if err := msg.Load(ctx, c.gateway); err != nil {
		logger.Warnw("failed to download message",
			"error", err)
		c.metrics.Messages.WithLabelValues("failed").Inc()
		return
	}
	atts, err := msg.Attachments()
	if err != nil {
		logger.Warnw("failed to parse message",
			"error", err,
			"attachments", len(atts))
	}

	extracted := 0
	for _, a := range atts {
		if !c.matcher.MatchAttachmentName(rule, a.Filename) {
			logger.Debugw("attachment does not match rule",
				"filename", a.Filename)
			continue
		}
		path, err := c.store.Save(rule.DownloadPath, a.Filename, a.Data)
		if err != nil {
			logger.Errorw("failed to save attachment",
				"filename", a.Filename,
				"error", err)
			continue
		}
		if c.processFile(ctx, st, rule, path) {
			extracted++
		}
	}

	if extracted == 0 {
		logger.Infow("no attachment extracted, leaving message unread")
		c.metrics.Messages.WithLabelValues("unread").Inc()
		return
	}
	if err := c.gateway.MarkRead(ctx, h.ID); err != nil {
		logger.Warnw("failed to mark message read",
			"error", err)
	}
	st.report.Handled++
	c.metrics.Messages.WithLabelValues("handled").Inc()
}

// processFile extracts path, emits the batches past the watermark and
// archives the file.  It reports whether extraction succeeded; on failure
// the file stays where it is.
func (c *Coordinator) processFile(ctx context.Context, st *cycleState, rule *Rule, path string) (ok bool) {
	logger := st.logger.With("rule", rule.Name, "file", path)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("panic while extracting file",
				"panic", r)
			ok = false
		}
		result := "ok"
		if !ok {
			result = "error"
			st.report.FailedFile++
		}
		c.metrics.Files.WithLabelValues(rule.Vendor, result).Inc()
	}()

	batches, err := c.extractor.ExtractFile(path, rule, c.tracker.Last(rule.Vendor))
	if err != nil {
		logger.Errorw("failed to extract file",
			"error", err)
		return false
	}
	st.report.Files++

	for _, b := range batches {
		if !c.tracker.ShouldProcess(rule.Vendor, b.Date) {
			logger.Infow("skipping delivery date at or before watermark",
				"date", b.Date,
				"watermark", c.tracker.Last(rule.Vendor),
				"records", len(b.Records))
			continue
		}
		if err := c.emit(st, rule, b); err != nil {
			logger.Errorw("failed to emit records",
				"date", b.Date,
				"error", err)
			st.blocked[rule.Vendor] = true
			return false
		}
	}

	if _, err := c.store.Archive(path, rule.ExcelArchive); err != nil {
		logger.Warnw("failed to archive file",
			"error", err)
	}
	return true
}

// emit adds b to the cycle's records for its vendor and date and rewrites
// that output file.
func (c *Coordinator) emit(st *cycleState, rule *Rule, b Batch) error {
	key := emitKey{vendor: rule.Vendor, date: b.Date.Key()}
	e, found := st.emitted[key]
	if !found {
		e = &emission{vendor: rule.Vendor, date: b.Date, dir: rule.JSONOutput}
	}
	records := append(slices.Clone(e.records), b.Records...)
	path, err := c.emitter.Write(e.dir, e.vendor, e.date, records)
	if err != nil {
		return err
	}
	if !found {
		st.emitted[key] = e
		st.order = append(st.order, key)
	}
	e.records = records
	e.path = path

	if b.Date.After(st.pending[rule.Vendor]) {
		st.pending[rule.Vendor] = b.Date
	}
	st.report.Records[rule.Vendor] += len(b.Records)
	c.metrics.Records.WithLabelValues(rule.Vendor).Add(float64(len(b.Records)))
	return nil
}

// finish commits each vendor's highest emitted date and hands on the
// deliveries of the vendors whose watermark was committed.
func (c *Coordinator) finish(ctx context.Context, st *cycleState) {
	vendors := make([]string, 0, len(st.pending))
	for v := range st.pending {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)

	committed := map[string]bool{}
	for _, v := range vendors {
		if st.blocked[v] {
			st.logger.Warnw("not advancing watermark after failed emission",
				"vendor", v)
			continue
		}
		d := st.pending[v]
		advanced, err := c.tracker.Commit(ctx, v, d)
		if err != nil {
			st.logger.Errorw("failed to commit watermark",
				"vendor", v,
				"date", d,
				"error", err)
			continue
		}
		committed[v] = true
		if advanced {
			st.report.Committed[v] = d
			c.metrics.SetWatermark(v, d)
		}
	}

	deliveries := map[string]*Delivery{}
	var order []string
	for _, key := range st.order {
		e := st.emitted[key]
		d, found := deliveries[e.vendor]
		if !found {
			d = &Delivery{Vendor: e.vendor, Records: map[string][]ShipmentRecord{}}
			deliveries[e.vendor] = d
			order = append(order, e.vendor)
		}
		d.Records[e.date.String()] = e.records
		d.Files = append(d.Files, e.path)
	}
	for _, v := range order {
		d := deliveries[v]
		if !committed[v] {
			// the same dates are emitted again next cycle
			st.logger.Warnw("not handing off uncommitted deliveries",
				"vendor", v,
				"files", d.Files)
			continue
		}
		st.report.Deliveries[v] = d.Records
		if err := c.handoff.Deliver(ctx, *d); err != nil {
			st.logger.Errorw("hand-off failed",
				"vendor", v,
				"files", d.Files,
				"error", err)
		}
	}

	st.logger.Infow("poll cycle finished",
		"matched", st.report.Matched,
		"handled", st.report.Handled,
		"files", st.report.Files,
		"failedFiles", st.report.FailedFile,
		"records", st.report.Records)
}

// ProcessBacklog runs extraction over spreadsheets already sitting in the
// rule's download directory, in name order.  Office lock files (~$...) are
// ignored.
func (c *Coordinator) ProcessBacklog(ctx context.Context, rule *Rule) (*CycleReport, error) {
	if !c.guard.TryAcquire(1) {
		return nil, errors.WithStack(ErrCycleInProgress)
	}
	defer c.guard.Release(1)

	st := c.newCycleState()
	if err := c.tracker.Begin(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(rule.DownloadPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read download directory %s", rule.DownloadPath)
	}
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || strings.HasPrefix(name, "~$") || !IsSpreadsheet(name) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		c.processFile(ctx, st, rule, filepath.Join(rule.DownloadPath, name))
	}

	c.finish(ctx, st)
	return st.report, nil
}
