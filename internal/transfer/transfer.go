package transfer

import (
	"context"
	"fmt"
	"net/url"
)

// Indeterminate is the Percent reported when the server did not declare a content length.
const Indeterminate = -1

// Fetcher performs a single download session.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, l Listener) (int64, error)
}

// Request describes one download session. It is not retained after Fetch returns.
type Request struct {
	URL         string
	Destination string
	// Resume appends to an existing destination instead of replacing it.
	Resume bool
}

// Validate reports whether the request can be fetched at all. Failures wrap ErrInvalidRequest.
func (r Request) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidRequest)
	}

	if r.Destination == "" {
		return fmt.Errorf("%w: empty destination", ErrInvalidRequest)
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidRequest)
	}

	return nil
}

// Progress is emitted after every chunk written to the destination.
type Progress struct {
	// Percent is in [0,100], or Indeterminate when Total is unknown.
	Percent int
	// Written counts bytes written to the destination in this session.
	Written int64
	// Received counts body bytes read off the wire; with gzip these are compressed bytes.
	Received int64
	// Total is the declared content length of the response body, or -1.
	Total int64
}

// Indeterminate reports whether the percentage could not be computed.
func (p Progress) Indeterminate() bool {
	return p.Percent == Indeterminate
}

// Listener receives notifications for a download session. Callbacks run synchronously
// on the goroutine that called Fetch.
type Listener interface {
	OnProgress(p Progress)
	OnComplete(destination string)
	OnFailure(err error)
}

// ListenerFuncs adapts optional functions to the Listener interface.
type ListenerFuncs struct {
	Progress func(p Progress)
	Complete func(destination string)
	Failure  func(err error)
}

func (f ListenerFuncs) OnProgress(p Progress) {
	if f.Progress != nil {
		f.Progress(p)
	}
}

func (f ListenerFuncs) OnComplete(destination string) {
	if f.Complete != nil {
		f.Complete(destination)
	}
}

func (f ListenerFuncs) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

type multiListener []Listener

// MultiListener fans notifications out to every non-nil listener, in order.
func MultiListener(listeners ...Listener) Listener {
	var ml multiListener

	for _, l := range listeners {
		if l != nil {
			ml = append(ml, l)
		}
	}

	if len(ml) == 0 {
		return nil
	}

	return ml
}

func (ml multiListener) OnProgress(p Progress) {
	for _, l := range ml {
		l.OnProgress(p)
	}
}

func (ml multiListener) OnComplete(destination string) {
	for _, l := range ml {
		l.OnComplete(destination)
	}
}

func (ml multiListener) OnFailure(err error) {
	for _, l := range ml {
		l.OnFailure(err)
	}
}
