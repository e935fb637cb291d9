package retrieval

import "context"

// Fragment is one piece of a streamed retrieval+generation response.
type Fragment struct {
	Text string
	Done bool
}

// QueryStream runs Query then, when stream is requested, hands the
// assembled context to generate and relays its fragments. generate is
// expected to terminate its channel once it reaches the end of its output.
func (e *Engine) QueryStream(ctx context.Context, q Query, generate func(ctx context.Context, prompt string) (<-chan Fragment, error)) (*Result, <-chan Fragment, error) {
	result, err := e.Query(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	if !q.Stream || q.Mode == Bypass {
		return result, nil, nil
	}

	fragments, err := generate(ctx, result.Context)
	if err != nil {
		return result, nil, err
	}
	return result, fragments, nil
}

// Collect drains a fragment channel into a single string, honoring ctx
// cancellation by returning whatever was collected so far.
func Collect(ctx context.Context, fragments <-chan Fragment) string {
	var collected []string
	for {
		select {
		case <-ctx.Done():
			return joinFragments(collected)
		case f, ok := <-fragments:
			if !ok || f.Done {
				return joinFragments(collected)
			}
			collected = append(collected, f.Text)
		}
	}
}

func joinFragments(fragments []string) string {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range fragments {
		out = append(out, f...)
	}
	return string(out)
}
