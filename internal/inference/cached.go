package inference

import (
	"context"
	"strings"

	"spendlog/internal/cache"
	"spendlog/internal/log"
)

// Cached remembers successful suggestions so repeating a note does not call
// the model again. Only validated suggestions are stored.
type Cached struct {
	next   Inferrer
	cache  cache.Cache[Suggestion]
	logger *log.Logger
}

func NewCached(next Inferrer, c cache.Cache[Suggestion], logger *log.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  c,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentInference),
	}
}

func (c *Cached) Infer(ctx context.Context, req Request) (Suggestion, error) {
	key := cacheKey(req)
	if s, ok := c.cache.Get(key); ok {
		c.logger.DebugContext(ctx, "Suggestion served from cache", log.FieldOperation, log.OpInfer)
		return s, nil
	}
	s, err := c.next.Infer(ctx, req)
	if err != nil {
		return Suggestion{}, err
	}
	valid, err := s.Validate(req)
	if err != nil {
		return s, nil
	}
	c.cache.Set(key, valid)
	return s, nil
}

// cacheKey covers everything the answer depends on except the date.
func cacheKey(req Request) string {
	const sep = "\x1f"
	return strings.Join([]string{
		strings.ToLower(strings.Join(strings.Fields(req.Prompt), " ")),
		req.MainCurrency,
		strings.Join(req.Currencies, ","),
		strings.Join(req.Categories, ","),
	}, sep)
}
