package backend

import (
	"context"
	"sync"

	"noirvrs/internal/domain"
)

// Collect runs one generation and waits until every image slot is settled.
// Failed slots come back as empty strings.
func Collect(ctx context.Context, a Adapter, req Request) (*Payload, error) {
	var (
		mu      sync.Mutex
		refs    [domain.PageCount]string
		settled [domain.PageCount]bool
	)
	changed := make(chan struct{}, 1)
	resolve := func(i int, ref string, err error) {
		if i < 0 || i >= domain.PageCount {
			return
		}
		mu.Lock()
		if !settled[i] {
			settled[i] = true
			if err == nil {
				refs[i] = ref
			}
		}
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	p, err := a.Generate(ctx, req, resolve)
	if err != nil {
		return nil, err
	}
	for {
		mu.Lock()
		done := true
		for i, ref := range p.Images {
			if ref != "" && !settled[i] {
				settled[i] = true
				refs[i] = ref
			}
			if !settled[i] {
				done = false
			}
		}
		if done {
			p.Images = refs
			mu.Unlock()
			return p, nil
		}
		mu.Unlock()

		select {
		case <-ctx.Done():
			cause := context.Cause(ctx)
			return nil, domain.NewFailure(domain.Classify(cause), cause)
		case <-changed:
		}
	}
}
