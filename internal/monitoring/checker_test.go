package monitoring

import (
	"context"
	"testing"
	"time"
)

func TestChecker_StopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	c := NewChecker(NewCollector(st), CheckerConfig{CheckIntervalSecs: 1, BacklogWarn: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop on context cancel")
	}
}
