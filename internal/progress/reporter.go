package progress

import (
	"errors"
	"time"

	"github.com/JakeFAU/data-spider/internal/fetcher"
	"github.com/JakeFAU/data-spider/internal/spider"
	"github.com/JakeFAU/data-spider/internal/storage"
)

// Reporter turns run loop, fetcher and store notifications for one site into
// events. It implements spider.Observer.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	site    string
	now     func() time.Time
	started time.Time
}

// NewReporter binds a site within a run to an emitter. A nil now uses
// time.Now.
func NewReporter(emitter Emitter, runID [16]byte, site string, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{emitter: emitter, runID: runID, site: site, now: now}
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.Site = r.site
	evt.TS = r.now().UTC()
	r.emitter.Emit(evt)
}

// Start records the beginning of the site run.
func (r *Reporter) Start() {
	if r == nil {
		return
	}
	r.started = r.now()
	r.emit(Event{Stage: StageRunStart})
}

// StepFetched implements spider.Observer.
func (r *Reporter) StepFetched(result spider.StepResult) {
	if result.Response == nil {
		return
	}
	r.emit(Event{
		Stage:       StageFetchDone,
		URL:         result.Response.URL,
		Bytes:       int64(len(result.Response.Body)),
		StatusClass: ClassifyStatus(result.Response.StatusCode),
		Dur:         result.Response.Duration,
	})
}

// StepRetried implements spider.Observer.
func (r *Reporter) StepRetried(iteration int, err error) {
	evt := Event{Stage: StageRetry, Attempt: iteration}
	var fe *spider.FetchError
	if errors.As(err, &fe) {
		evt.URL = fe.URL
		evt.StatusClass = ClassifyStatus(fe.StatusCode)
	}
	if err != nil {
		evt.Note = err.Error()
	}
	r.emit(evt)
}

// RunFinished implements spider.Observer.
func (r *Reporter) RunFinished(stats spider.RunStats, err error) {
	evt := Event{
		Stage: StageRunDone,
		Bytes: stats.Bytes,
		Steps: int64(stats.Steps),
		Note:  string(stats.Reason),
	}
	if r != nil && !r.started.IsZero() {
		evt.Dur = r.now().Sub(r.started)
	}
	if err != nil {
		evt.Stage = StageRunError
		evt.Note = err.Error()
	}
	r.emit(evt)
}

// FetchObserver reports failed attempts that will be retried or fall back to
// an alternate locator.
func (r *Reporter) FetchObserver() fetcher.Observer {
	return func(a fetcher.Attempt) {
		if a.Err == nil {
			return
		}
		if !spider.IsRecoverable(a.Err) && !spider.IsNotFound(a.Err) {
			return
		}
		r.emit(Event{
			Stage:       StageRetry,
			URL:         a.URL,
			Attempt:     a.Number,
			StatusClass: ClassifyStatus(a.StatusCode),
			Dur:         a.Duration,
			Note:        a.Err.Error(),
		})
	}
}

// ArtifactObserver reports every object a store writes.
func (r *Reporter) ArtifactObserver() storage.ArtifactObserver {
	return func(a storage.Artifact) {
		r.emit(Event{
			Stage: StageArtifactStored,
			URL:   a.URI,
			Bytes: int64(a.Bytes),
		})
	}
}
