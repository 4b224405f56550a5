package latest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotGetBeforePublish(t *testing.T) {
	var s Slot[int]

	_, ok := s.Get()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), s.Version())
}

func TestSlotSubscriberSeesCurrentValue(t *testing.T) {
	var s Slot[string]
	s.Publish("first")

	ch, cancel := s.Subscribe()
	defer cancel()

	assert.Equal(t, "first", <-ch)
}

func TestSlotSlowSubscriberGetsLatest(t *testing.T) {
	var s Slot[int]
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		s.Publish(i)
	}

	assert.Equal(t, 5, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestSlotCancelClosesChannel(t *testing.T) {
	var s Slot[int]
	ch, cancel := s.Subscribe()
	require.Equal(t, 1, s.Subscribers())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, s.Subscribers())

	s.Publish(1)
}

func TestSlotConcurrentPublish(t *testing.T) {
	var s Slot[int]
	ch, cancel := s.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			s.Publish(v)
		}(i)
	}
	wg.Wait()

	last, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, last, <-ch)
	assert.Equal(t, uint64(50), s.Version())
}

func TestSlotClose(t *testing.T) {
	var s Slot[int]
	ch1, _ := s.Subscribe()
	ch2, _ := s.Subscribe()

	s.Close()

	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)
}
