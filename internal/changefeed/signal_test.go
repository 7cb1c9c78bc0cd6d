package changefeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWakeup_Coalesces(t *testing.T) {
	w := newWakeup()
	w.Notify()
	w.Notify()
	w.Notify()

	select {
	case <-w.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-w.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestWakeup_Close(t *testing.T) {
	w := newWakeup()
	w.Close()
	w.Close()  // idempotent
	w.Notify() // no panic after close

	_, ok := <-w.Wait()
	assert.False(t, ok)
}
