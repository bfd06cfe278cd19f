package filters

import (
	"fmt"

	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/tl"
	"github.com/gabrielsou/chatfold/internal/transport"
	"go.uber.org/zap"
)

// RequestSuggested fetches the suggested filter templates unless a fetch is
// in flight or the last one is still fresh. A failed fetch stamps the
// receive time half a cooldown into the future, throttling retries without
// blocking them for as long as a success would.
func (r *Registry) RequestSuggested() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suggestedReqID != 0 {
		return
	}
	if !r.suggestedLastReceived.IsZero() &&
		r.cfg.Now().Sub(r.suggestedLastReceived) < r.cfg.SuggestedRefresh {
		return
	}
	r.suggestedReqID = r.api.Send(transport.Request{
		Msg:  tl.GetSuggestedDialogFilters{},
		Done: r.suggestedDone,
		Fail: r.suggestedFailed,
	})
}

func (r *Registry) suggestedDone(resp any) {
	recs, ok := resp.([]tl.DialogFilterSuggested)
	if !ok {
		r.log.Error("unexpected suggested filters response",
			zap.String("type", fmt.Sprintf("%T", resp)))
		r.suggestedFailed(fmt.Errorf("unexpected response type %T", resp))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suggestedReqID = 0
	r.suggestedLastReceived = r.cfg.Now()
	r.suggested = make([]SuggestedFilter, 0, len(recs))
	for _, rec := range recs {
		r.suggested = append(r.suggested, SuggestedFilter{
			Filter:      FromTL(rec.Filter, r.owner),
			Description: rec.Description,
		})
	}
	r.publishLocked(bus.KindSuggestedUpdated, nil)
}

func (r *Registry) suggestedFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suggestedReqID = 0
	r.suggestedLastReceived = r.cfg.Now().Add(r.cfg.SuggestedRefresh / 2)
	r.log.Warn("suggested filters fetch failed", zap.Error(err))
	r.publishLocked(bus.KindSuggestedUpdated, nil)
}

// SuggestedLoaded reports whether a fetch ever completed (even a failed one
// stamps the throttle clock).
func (r *Registry) SuggestedLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.suggestedLastReceived.IsZero()
}

// SuggestedFilters returns the cached suggested templates, possibly empty
// until loaded.
func (r *Registry) SuggestedFilters() []SuggestedFilter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SuggestedFilter(nil), r.suggested...)
}
