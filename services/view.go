package services

import (
	"context"
	"sort"
	"sync"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

// ViewComposer joins a report snapshot with its live change stream.
type ViewComposer struct {
	prices   storage.PriceStore
	comments storage.CommentStore
	feed     storage.ChangeFeed
	logger   *utils.Logger
}

func NewViewComposer(prices storage.PriceStore, comments storage.CommentStore, feed storage.ChangeFeed, logger *utils.Logger) *ViewComposer {
	return &ViewComposer{prices: prices, comments: comments, feed: feed, logger: logger.With("view")}
}

// Observation is a live view of one report. Updates yields the initial view
// first, then a fresh merged view after every vote-state change or new
// comment. The channel keeps only the latest undelivered view, so a slow
// reader skips intermediate states but never misses the current one.
type Observation struct {
	updates chan models.View
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

func (o *Observation) Updates() <-chan models.View { return o.updates }

// Close stops the observation and waits until the underlying subscription
// is released.
func (o *Observation) Close() {
	o.cancel()
	<-o.done
}

// Err is the error that ended the observation, if any. Cancellation is not
// an error.
func (o *Observation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Observe subscribes to priceID and returns once the initial view has been
// read. The observation ends when ctx is cancelled, Close is called or a
// refresh fails.
func (c *ViewComposer) Observe(ctx context.Context, priceID string) (*Observation, error) {
	if priceID == "" {
		return nil, &models.ValidationError{Field: "price_id", Reason: "must not be empty"}
	}

	// Subscribe before reading so nothing committed after the read is lost.
	sub, err := c.feed.Subscribe(priceID)
	if err != nil {
		return nil, translate("observe", err)
	}

	report, err := c.prices.GetPrice(ctx, priceID)
	if err != nil {
		sub.Close()
		return nil, notFoundOr("observe", "price report", priceID, err)
	}
	comments, err := c.comments.ListComments(ctx, priceID)
	if err != nil {
		sub.Close()
		return nil, translate("observe", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o := &Observation{
		updates: make(chan models.View, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	st := newViewState(report, comments)
	o.updates <- st.snapshot()

	go c.run(runCtx, o, sub, st)
	return o, nil
}

func (c *ViewComposer) run(ctx context.Context, o *Observation, sub *storage.Subscription, st *viewState) {
	defer close(o.done)
	defer close(o.updates)
	defer sub.Close()

	priceID := st.report.ID
	for {
		select {
		case <-ctx.Done():
			return

		case <-sub.ReportChanged():
			report, err := c.prices.GetPrice(ctx, priceID)
			if err != nil {
				c.fail(ctx, o, notFoundOr("refresh report", "price report", priceID, err))
				return
			}
			if st.mergeReport(report) {
				o.publish(st.snapshot())
			}

		case <-sub.CommentAdded():
			list, err := c.comments.ListComments(ctx, priceID)
			if err != nil {
				c.fail(ctx, o, translate("refresh comments", err))
				return
			}
			if st.mergeComments(list) {
				o.publish(st.snapshot())
			}
		}
	}
}

func (c *ViewComposer) fail(ctx context.Context, o *Observation, err error) {
	if ctx.Err() != nil {
		return
	}
	c.logger.Warn("observation ended: %v", err)
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

// publish replaces any undelivered view. Only run sends, so after the drain
// the buffered send cannot block.
func (o *Observation) publish(v models.View) {
	select {
	case <-o.updates:
	default:
	}
	o.updates <- v
}

// viewState is the most recent known view, owned by the run goroutine.
type viewState struct {
	report   *models.PriceReport
	comments []*models.Comment
	seen     map[string]struct{}
}

func newViewState(report *models.PriceReport, comments []*models.Comment) *viewState {
	st := &viewState{report: report, seen: make(map[string]struct{})}
	st.mergeComments(comments)
	return st
}

// mergeReport takes the newer vote-state; stale or repeated reads are
// ignored. Comments are untouched.
func (st *viewState) mergeReport(r *models.PriceReport) bool {
	if r.Version <= st.report.Version {
		return false
	}
	st.report = r
	return true
}

// mergeComments adds unseen comments keeping (CreatedAt, ID) order, so a
// comment that committed late still lands in creation order.
func (st *viewState) mergeComments(list []*models.Comment) bool {
	added := false
	for _, c := range list {
		if _, ok := st.seen[c.ID]; ok {
			continue
		}
		st.seen[c.ID] = struct{}{}
		st.comments = append(st.comments, c)
		added = true
	}
	if added {
		sort.SliceStable(st.comments, func(i, j int) bool {
			a, b := st.comments[i], st.comments[j]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
	}
	return added
}

// snapshot copies the state so consumers can keep views across updates.
func (st *viewState) snapshot() models.View {
	comments := make([]*models.Comment, len(st.comments))
	for i, c := range st.comments {
		cp := *c
		comments[i] = &cp
	}
	return models.View{Report: st.report.Clone(), Comments: comments}
}
