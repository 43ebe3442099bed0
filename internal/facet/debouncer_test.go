package facet

import (
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := NewDebouncer(100 * time.Millisecond)
		var calls atomic.Int32
		var last atomic.Value

		for _, q := range []string{"a", "ab", "abc"} {
			d.Trigger(func() {
				calls.Add(1)
				last.Store(q)
			})
			time.Sleep(50 * time.Millisecond)
		}

		time.Sleep(100 * time.Millisecond)
		synctest.Wait()

		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, "abc", last.Load())
	})
}

func TestDebouncer_SeparateWindowsFireSeparately(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := NewDebouncer(100 * time.Millisecond)
		var calls atomic.Int32

		d.Trigger(func() { calls.Add(1) })
		time.Sleep(150 * time.Millisecond)
		d.Trigger(func() { calls.Add(1) })
		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestDebouncer_ZeroWindowRunsImmediately(t *testing.T) {
	d := NewDebouncer(0)
	ran := false
	d.Trigger(func() { ran = true })
	assert.True(t, ran)
}

func TestDebouncer_Flush(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := NewDebouncer(time.Second)
		var calls atomic.Int32
		d.Trigger(func() { calls.Add(1) })

		d.Flush()
		assert.Equal(t, int32(1), calls.Load())

		// Nothing left to run when the window would have expired
		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, int32(1), calls.Load())

		d.Flush()
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestDebouncer_CancelAndStop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := NewDebouncer(50 * time.Millisecond)
		var calls atomic.Int32

		d.Trigger(func() { calls.Add(1) })
		d.Cancel()
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		assert.Equal(t, int32(0), calls.Load())

		d.Stop()
		d.Trigger(func() { calls.Add(1) })
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		assert.Equal(t, int32(0), calls.Load())
	})
}
