package llm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates prompt size in tokens.
type TokenCounter func(text string) int

var (
	encOnce  sync.Once
	encReady = make(chan struct{})
	encoding atomic.Pointer[tiktoken.Tiktoken]
)

// loadEncoding starts fetching cl100k_base in the background. The first fetch
// may download the BPE file (cached under TIKTOKEN_CACHE_DIR when set).
func loadEncoding() {
	encOnce.Do(func() {
		go func() {
			defer close(encReady)
			if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
				encoding.Store(enc)
			}
		}()
	})
}

// WarmTokenizer starts loading the encoding and waits for it until ctx ends.
// It reports whether exact counting is available.
func WarmTokenizer(ctx context.Context) bool {
	loadEncoding()
	select {
	case <-encReady:
	case <-ctx.Done():
	}
	return encoding.Load() != nil
}

// CountTokens uses the cl100k_base encoding once it has loaded and
// EstimateTokens until then. It never waits for the encoding.
func CountTokens(text string) int {
	if enc := encoding.Load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	loadEncoding()
	return EstimateTokens(text)
}

// EstimateTokens is max(runes/4, words), at least 1 for non-empty text.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// CountMessages sums counter over every message plus a small per-message overhead.
func CountMessages(counter TokenCounter, msgs []Message) int {
	if counter == nil {
		counter = EstimateTokens
	}
	total := 0
	for _, m := range msgs {
		total += counter(m.Content) + 4
	}
	return total
}
