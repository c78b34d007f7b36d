package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/navigate"
	"github.com/JakeFAU/racing-crawler/internal/progress"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

const tracerName = "github.com/JakeFAU/racing-crawler/internal/crawler"

// Engine runs one site's crawl. It dispatches each target by role, fans
// discovered work out under a concurrency limit, and streams records to the
// sink. Targets are independent: one failing never stops its siblings.
type Engine struct {
	cfg      Config
	site     Site
	renderer Renderer
	sink     Sink
	events   progress.Emitter
	clock    Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	pauser   pauseController
	jitter   func(limit time.Duration) time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEmitter sends progress events to em.
func WithEmitter(em progress.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.events = em
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the clock used for "today" and timestamps.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithTracer sets the tracer used for per-target spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine wires an engine for site.
func NewEngine(cfg Config, site Site, renderer Renderer, sink Sink, opts ...Option) (*Engine, error) {
	if site == nil {
		return nil, errors.New("site is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	e := &Engine{
		cfg:      cfg.withDefaults(),
		site:     site,
		renderer: renderer,
		sink:     sink,
		events:   progress.Discard,
		clock:    systemClock{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		pauser:   &timerPauseController{},
		jitter:   randomJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("site", site.Name()))
	return e, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Run crawls until every discovered target has finished. Parameters are
// validated before anything is fetched. Cancelling ctx stops new targets from
// starting; renders already in flight finish or time out on their own.
func (e *Engine) Run(ctx context.Context, runID string, params Params) (Summary, error) {
	started := e.clock.Now()
	if err := params.Validate(started); err != nil {
		return Summary{}, fmt.Errorf("validate params: %w", err)
	}
	rid, err := uuid.Parse(runID)
	if err != nil {
		return Summary{}, fmt.Errorf("parse run id: %w", err)
	}
	roots, err := e.site.Start(params)
	if err != nil {
		return Summary{}, fmt.Errorf("start %s: %w", e.site.Name(), err)
	}

	run := &crawlRun{
		engine:        e,
		params:        params,
		runID:         runID,
		eventID:       progress.UUIDToBytes(rid),
		today:         started,
		visited:       newConcurrentVisitTracker(),
		slots:         make(chan struct{}, e.cfg.Concurrency),
		fallbackSlots: make(chan struct{}, e.cfg.FallbackConcurrency),
		tally:         newTally(),
		tracks:        newTrackSet(),
		logger:        e.logger.With(zap.String("run_id", runID)),
	}

	note, _ := json.Marshal(params)
	e.events.Emit(progress.Event{
		RunID: run.eventID,
		TS:    started,
		Stage: progress.StageRunStart,
		Site:  e.site.Name(),
		Note:  string(note),
	})
	run.logger.Info("crawl started", zap.Int("roots", len(roots)))

	for _, t := range roots {
		run.dispatch(ctx, t, nil)
	}
	run.wg.Wait()

	summary := run.tally.summary()
	summary.RunID = runID
	summary.Site = e.site.Name()
	summary.StartedAt = started
	summary.FinishedAt = e.clock.Now()
	summary.Cancelled = ctx.Err() != nil

	status := "completed"
	if summary.Cancelled {
		status = "cancelled"
	}
	e.events.Emit(progress.Event{
		RunID: run.eventID,
		TS:    summary.FinishedAt,
		Stage: progress.StageRunDone,
		Site:  e.site.Name(),
		Dur:   summary.FinishedAt.Sub(started),
		Note:  status,
	})
	run.logger.Info("crawl finished",
		zap.String("status", status),
		zap.Int("records", summary.RecordTotal()),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("persist_errors", summary.PersistErrors),
		zap.Int("failed_targets", summary.Failed()),
		zap.Duration("duration", summary.FinishedAt.Sub(started)),
	)
	return summary, nil
}

// crawlRun is the state shared by every target of one Run.
type crawlRun struct {
	engine        *Engine
	params        Params
	runID         string
	eventID       [16]byte
	today         time.Time
	visited       visitTracker
	slots         chan struct{}
	fallbackSlots chan struct{}
	tally         *tally
	tracks        *trackSet
	logger        *zap.Logger
	wg            sync.WaitGroup
}

// targetResult is what one target contributed to the run.
type targetResult struct {
	outcome       Outcome
	records       map[record.Type]int
	extracted     int
	duplicates    int
	persistErrors int
	unrecognized  int
	followUps     int
}

// dispatch starts t unless the run is cancelled or t was already scheduled.
func (r *crawlRun) dispatch(ctx context.Context, t CrawlTarget, group *fallbackGroup) bool {
	if ctx.Err() != nil {
		r.tally.addSkipped()
		return false
	}
	if !r.visited.MarkIfNew(navigate.CanonicalURL(t.URL)) {
		return false
	}
	if group != nil {
		group.pending.Add(1)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.process(ctx, t, group)
	}()
	return true
}

func (r *crawlRun) process(ctx context.Context, t CrawlTarget, group *fallbackGroup) {
	if group != nil {
		defer r.finishFallback(group)
	}

	release, ok := r.acquire(ctx, t.Speculative)
	if !ok {
		r.tally.addSkipped()
		return
	}
	defer release()

	if group != nil && group.quotaMet() {
		r.tally.addSkipped()
		return
	}
	e := r.engine
	if err := e.pauser.Pause(ctx, e.cfg.Delay+e.jitter(e.cfg.Jitter)); err != nil {
		r.tally.addSkipped()
		return
	}
	if group != nil && group.quotaMet() {
		r.tally.addSkipped()
		return
	}

	start := time.Now()
	spanCtx, span := e.tracer.Start(ctx, "crawl.target", trace.WithAttributes(
		attribute.String("crawl.site", e.site.Name()),
		attribute.String("crawl.role", string(t.Role)),
		attribute.String("crawl.url", t.URL),
		attribute.Bool("crawl.speculative", t.Speculative),
	))
	res, err := r.run(spanCtx, t)
	span.SetAttributes(attribute.String("crawl.outcome", string(res.outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.outcome))
	}
	span.End()

	// Count the hit before release so the next guess to take the slot sees it.
	if group != nil && res.outcome == OutcomeSuccess && res.extracted > 0 {
		group.hits.Add(1)
	}
	r.report(t, res, err, time.Since(start))
}

// acquire takes a fallback slot for speculative targets and then a general
// slot. It gives up when ctx is cancelled first.
func (r *crawlRun) acquire(ctx context.Context, speculative bool) (func(), bool) {
	if speculative {
		select {
		case r.fallbackSlots <- struct{}{}:
		case <-ctx.Done():
			return nil, false
		}
	}
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		if speculative {
			<-r.fallbackSlots
		}
		return nil, false
	}
	return func() {
		<-r.slots
		if speculative {
			<-r.fallbackSlots
		}
	}, true
}

// run renders t and handles it according to its role.
func (r *crawlRun) run(ctx context.Context, t CrawlTarget) (targetResult, error) {
	res := targetResult{records: map[record.Type]int{}}

	rendered, err := r.render(ctx, t)
	if err != nil {
		res.outcome = OutcomeFromError(err)
		return res, err
	}
	if rendered.FinalURL != "" && rendered.FinalURL != t.URL {
		r.visited.MarkIfNew(navigate.CanonicalURL(rendered.FinalURL))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered.Markup))
	if err != nil {
		res.outcome = OutcomeError
		return res, fmt.Errorf("parse %s: %w", t.URL, err)
	}
	page := &Page{Target: t, Rendered: rendered, Doc: doc}

	switch t.Role {
	case RoleDiscoverDates:
		err = r.discoverDates(ctx, page, &res)
	case RoleDiscoverTracks:
		err = r.discoverTracks(ctx, page, &res)
	case RoleExtractTable, RoleDiscoverPage:
		err = r.extract(ctx, page, &res)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedRole, t.Role)
	}
	switch {
	case err != nil:
		res.outcome = OutcomeError
	case res.extracted == 0 && res.followUps == 0:
		res.outcome = OutcomeNoContent
	default:
		res.outcome = OutcomeSuccess
	}
	return res, err
}

// render calls the gateway on a context detached from cancellation, so a
// cancelled run never aborts a render already in flight.
func (r *crawlRun) render(ctx context.Context, t CrawlTarget) (RenderedPage, error) {
	e := r.engine
	wait := time.Duration(t.WaitTimeMS) * time.Millisecond
	if wait == 0 && t.RequiresRendering {
		wait = e.cfg.DefaultWait
	}
	renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RenderTimeout)
	defer cancel()
	page, err := e.renderer.Render(renderCtx, RenderRequest{
		URL:               t.URL,
		RequiresRendering: t.RequiresRendering,
		WaitSelector:      t.WaitSelector,
		WaitTime:          wait,
		Headers:           e.cfg.ExtraHeaders,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrRenderTimeout) {
			err = fmt.Errorf("%w: %w", ErrRenderTimeout, err)
		}
		return RenderedPage{}, err
	}
	if page.SourceURL == "" {
		page.SourceURL = t.URL
	}
	return page, nil
}

func (r *crawlRun) dateSite() (DateSite, error) {
	ds, ok := r.engine.site.(DateSite)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not discover dates", ErrUnsupportedRole, r.engine.site.Name())
	}
	return ds, nil
}

func (r *crawlRun) discoverDates(ctx context.Context, page *Page, res *targetResult) error {
	ds, err := r.dateSite()
	if err != nil {
		return err
	}
	r.tracks.add(ds.KnownTracks(page)...)
	dates, err := navigate.ComputeDateRange(r.params.Dates, r.today, ds.DeclaredDates(page))
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		r.logger.Warn("no race dates found on root page", zap.String("url", page.URL()))
	}
	for _, d := range dates {
		if r.dispatch(ctx, ds.DateTarget(d), nil) {
			res.followUps++
		}
	}
	return nil
}

func (r *crawlRun) discoverTracks(ctx context.Context, page *Page, res *targetResult) error {
	ds, err := r.dateSite()
	if err != nil {
		return err
	}
	date := page.Target.LogicalDate
	if links := ds.TrackTargets(page, date); len(links) > 0 {
		for _, t := range links {
			if r.dispatch(ctx, t, nil) {
				res.followUps++
			}
		}
		return nil
	}

	tracks := r.tracks.union(ds.KnownTracks(page))
	if len(tracks) == 0 {
		r.noTracks(date, page.URL())
		return nil
	}
	r.logger.Info("no track links for date, guessing track pages",
		zap.String("date", date), zap.Int("tracks", len(tracks)))
	group := &fallbackGroup{date: date, quota: int64(r.engine.cfg.FallbackQuota)}
	group.pending.Add(1)
	for _, track := range tracks {
		if group.quotaMet() {
			break
		}
		if r.dispatch(ctx, ds.FallbackTarget(track, date), group) {
			res.followUps++
		}
	}
	r.finishFallback(group)
	return nil
}

func (r *crawlRun) extract(ctx context.Context, page *Page, res *targetResult) error {
	e := r.engine
	persistCtx := context.WithoutCancel(ctx)
	emit := func(rec record.Record) {
		if rec == nil || !rec.HasIdentity() {
			return
		}
		res.extracted++
		status, err := e.sink.Accept(persistCtx, Envelope{
			RunID:     r.runID,
			Source:    e.site.Name(),
			Record:    rec,
			ScrapedAt: e.clock.Now(),
		})
		switch {
		case err != nil:
			res.persistErrors++
			r.logger.Error("persist record failed",
				zap.String("url", page.URL()),
				zap.String("type", string(rec.RecordType())),
				zap.Error(err))
		case status == StatusDuplicateSkipped:
			res.duplicates++
		default:
			res.records[rec.RecordType()]++
		}
	}

	out, err := e.site.Extract(ctx, page, emit)
	res.unrecognized += out.Unrecognized
	if out.Unrecognized > 0 {
		r.logger.Debug("unrecognized tables skipped",
			zap.String("url", page.URL()), zap.Int("tables", out.Unrecognized))
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", page.URL(), err)
	}
	for _, t := range out.FollowUps {
		if r.dispatch(ctx, t, nil) {
			res.followUps++
		}
	}

	t := page.Target
	if t.Role != RoleDiscoverPage || !t.FollowPages {
		return nil
	}
	if res.extracted == 0 && res.followUps == 0 {
		r.logger.Debug("empty page ends pagination", zap.String("url", page.URL()))
		return nil
	}
	cur := navigate.Cursor{URL: page.URL(), Page: t.PageNumber}
	if cur.Page == 0 {
		cur.Page = navigate.CurrentPage(cur.URL, page.Doc)
	}
	if max := e.cfg.MaxPages; max > 0 && t.PagesFollowed+1 >= max {
		r.logger.Info("max pages reached",
			zap.Int("page", cur.Page), zap.Int("pages_followed", t.PagesFollowed+1))
		return nil
	}
	next, ok := navigate.ComputePaginationTarget(page.Rendered.Markup, cur, r.visited)
	if !ok {
		return nil
	}
	nt := t.NextPage(next.URL)
	nt.PageNumber = cur.Page + 1
	if r.dispatch(ctx, nt, nil) {
		res.followUps++
	}
	return nil
}

func (r *crawlRun) finishFallback(group *fallbackGroup) {
	if group.pending.Add(-1) == 0 && group.hits.Load() == 0 {
		r.noTracks(group.date, "")
	}
}

func (r *crawlRun) noTracks(date, url string) {
	r.tally.addNoTracks(date)
	r.logger.Info("no tracks active", zap.String("date", date), zap.String("url", url))
	r.engine.events.Emit(progress.Event{
		RunID: r.eventID,
		TS:    r.engine.clock.Now(),
		Stage: progress.StageNoTracks,
		Site:  r.engine.site.Name(),
		URL:   url,
		Note:  date,
	})
}

func (r *crawlRun) report(t CrawlTarget, res targetResult, err error, dur time.Duration) {
	r.tally.addTarget(res)

	fields := []zap.Field{
		zap.String("url", t.URL),
		zap.String("role", string(t.Role)),
		zap.String("outcome", string(res.outcome)),
		zap.Duration("duration", dur),
	}
	switch {
	case err == nil:
		r.logger.Debug("target done", append(fields, zap.Int("records", res.extracted))...)
	case t.Speculative:
		r.logger.Debug("speculative target missed", append(fields, zap.Error(err))...)
	default:
		r.logger.Warn("target failed", append(fields, zap.Error(err))...)
	}

	records := make(map[string]int64, len(res.records))
	for typ, n := range res.records {
		records[string(typ)] = int64(n)
	}
	evt := progress.Event{
		RunID:         r.eventID,
		TS:            r.engine.clock.Now(),
		Stage:         progress.StageTargetDone,
		Site:          r.engine.site.Name(),
		URL:           t.URL,
		Role:          string(t.Role),
		Outcome:       string(res.outcome),
		Records:       records,
		Duplicates:    int64(res.duplicates),
		PersistErrors: int64(res.persistErrors),
		Unrecognized:  int64(res.unrecognized),
		Dur:           dur,
	}
	if err != nil {
		evt.Note = err.Error()
	}
	r.engine.events.Emit(evt)
}

// fallbackGroup tracks the speculative track guesses for one date. pending
// starts at one for the dispatching target and drops as guesses finish.
type fallbackGroup struct {
	date    string
	quota   int64
	pending atomic.Int64
	hits    atomic.Int64
}

func (g *fallbackGroup) quotaMet() bool {
	return g.quota > 0 && g.hits.Load() >= g.quota
}

// trackSet is the run-wide set of known track identifiers.
type trackSet struct {
	mu    sync.Mutex
	order []string
	seen  map[string]bool
}

func newTrackSet() *trackSet {
	return &trackSet{seen: map[string]bool{}}
}

func (s *trackSet) add(tracks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tracks {
		if t != "" && !s.seen[t] {
			s.seen[t] = true
			s.order = append(s.order, t)
		}
	}
}

// union returns the known tracks followed by any new ones in extra, without
// adding extra to the set.
func (s *trackSet) union(extra []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.order...)
	for _, t := range extra {
		if t != "" && !s.seen[t] {
			out = append(out, t)
		}
	}
	return out
}
