package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shipyard/bay/internal/affinity"
	"github.com/shipyard/bay/internal/apierr"
	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/repository"
)

// OperationRouter resolves an authenticated operation call to its Ship and
// forwards it to the Ship's upstream HTTP surface, streaming the response
// back verbatim. Ship lookup is the only state it owns; it does not parse
// the forwarded payload (spec section 4.7).
type OperationRouter struct {
	repo    repository.ShipRepository
	aff     *affinity.Index
	client  *http.Client
	timeout time.Duration
	margin  time.Duration
}

// NewOperationRouter constructs a Router whose upstream calls are bounded by
// timeout plus margin; exceeding that bound is reported as DeadlineExceeded.
func NewOperationRouter(repo repository.ShipRepository, aff *affinity.Index, timeout, margin time.Duration) *OperationRouter {
	return &OperationRouter{
		repo:    repo,
		aff:     aff,
		client:  &http.Client{},
		timeout: timeout,
		margin:  margin,
	}
}

// Forward resolves shipID, binds sessionID if not already bound, and
// proxies r's body to the Ship's endpoint, writing the upstream response
// (status + body) back to w.
func (o *OperationRouter) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, shipID, sessionID, endpoint string) error {
	ship, err := o.repo.Get(ctx, shipID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apierr.New(apierr.NotFound, "ship not found")
		}
		return apierr.Wrap(apierr.Internal, "ship lookup failed", err)
	}
	if ship.Status != domain.StatusRunning {
		return apierr.New(apierr.IllegalState, "ship is not running")
	}

	if o.aff.Lookup(sessionID) != ship.ID {
		if err := o.aff.Bind(ctx, sessionID, ship.ID, ship.MaxSessionNum); err != nil {
			return err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout+o.margin)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, "http://"+ship.Address+"/"+endpoint, r.Body)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "build upstream request failed", err)
	}
	upstreamReq.Header.Set("Content-Type", r.Header.Get("Content-Type"))
	upstreamReq.Header.Set("X-SESSION-ID", sessionID)

	resp, err := o.client.Do(upstreamReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || reqCtx.Err() == context.DeadlineExceeded {
			return apierr.Wrap(apierr.DeadlineExceeded, "upstream ship timed out", err)
		}
		return apierr.Wrap(apierr.Unavailable, "upstream ship unreachable", err)
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return nil
}
