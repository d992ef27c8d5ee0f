package amm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFabric_PublishSubscribe(t *testing.T) {
	fabric := NewFabric(0)
	pub := fabric.Participant("pub")
	sub := fabric.Participant("sub")
	defer pub.Shutdown()
	defer sub.Shutdown()

	var mu sync.Mutex
	var got []PhysiologyValue
	sub.OnPhysiologyValue(func(v PhysiologyValue) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	pub.PublishPhysiologyValue(PhysiologyValue{Name: "HR", Value: 72.5})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "HR", got[0].Name)
	assert.Equal(t, 72.5, got[0].Value)
}

func TestFabric_SelfLoopback(t *testing.T) {
	// A participant's own publications reach its own subscriptions; the
	// bridge relies on this to cache event records it minted itself.
	fabric := NewFabric(0)
	p := fabric.Participant("bridge")
	defer p.Shutdown()

	var mu sync.Mutex
	var got []EventRecord
	p.OnEventRecord(func(er EventRecord) {
		mu.Lock()
		got = append(got, er)
		mu.Unlock()
	})

	p.PublishEventRecord(EventRecord{ID: "E1", Type: "Injury"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "E1", got[0].ID)
}

func TestFabric_TopicIsolation(t *testing.T) {
	fabric := NewFabric(0)
	pub := fabric.Participant("pub")
	sub := fabric.Participant("sub")
	defer pub.Shutdown()
	defer sub.Shutdown()

	var mu sync.Mutex
	var commands, statuses int
	sub.OnCommand(func(Command) {
		mu.Lock()
		commands++
		mu.Unlock()
	})
	sub.OnStatus(func(Status) {
		mu.Lock()
		statuses++
		mu.Unlock()
	})

	pub.PublishCommand(Command{Message: "hello"})
	pub.PublishCommand(Command{Message: "again"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return commands == 2
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, statuses)
}

func TestFabric_SeparateDomains(t *testing.T) {
	// Two fabrics model two manikins; traffic does not cross.
	f1 := NewFabric(0)
	f2 := NewFabric(0)
	pub := f1.Participant("pub")
	sub := f2.Participant("sub")
	defer pub.Shutdown()
	defer sub.Shutdown()

	var mu sync.Mutex
	var got int
	sub.OnCommand(func(Command) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	pub.PublishCommand(Command{Message: "only f1"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, got)
}

func TestParticipant_ShutdownIdempotent(t *testing.T) {
	fabric := NewFabric(0)
	p := fabric.Participant("p")
	p.OnCommand(func(Command) {})

	p.Shutdown()
	require.NotPanics(t, p.Shutdown)

	// Publishing after shutdown must not block or panic.
	other := fabric.Participant("other")
	defer other.Shutdown()
	other.PublishCommand(Command{Message: "after shutdown"})
}

func TestFabric_SlowSubscriberDropsOldest(t *testing.T) {
	fabric := NewFabric(2)
	pub := fabric.Participant("pub")
	sub := fabric.Participant("sub")
	defer pub.Shutdown()
	defer sub.Shutdown()

	gate := make(chan struct{})
	var mu sync.Mutex
	var got int
	sub.OnCommand(func(Command) {
		<-gate
		mu.Lock()
		got++
		mu.Unlock()
	})

	// The blocked dispatcher keeps the queue full; publishing must not
	// block the publisher.
	for i := 0; i < 10; i++ {
		pub.PublishCommand(Command{Message: "m"})
	}
	close(gate)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got >= 2
	})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, got, 10)
}

func TestParticipant_CallbackOrderAcrossTopics(t *testing.T) {
	// All of one participant's callbacks run on a single dispatch
	// goroutine, so an event record always lands before the modification
	// that follows it on the publisher side.
	fabric := NewFabric(0)
	pub := fabric.Participant("pub")
	sub := fabric.Participant("sub")
	defer pub.Shutdown()
	defer sub.Shutdown()

	var mu sync.Mutex
	var order []string
	sub.OnEventRecord(func(EventRecord) {
		mu.Lock()
		order = append(order, "event")
		mu.Unlock()
	})
	sub.OnPhysiologyModification(func(PhysiologyModification) {
		mu.Lock()
		order = append(order, "mod")
		mu.Unlock()
	})

	for i := 0; i < 20; i++ {
		pub.PublishEventRecord(EventRecord{ID: "E"})
		pub.PublishPhysiologyModification(PhysiologyModification{EventID: "E"})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 40
	})
	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 40; i += 2 {
		require.Equal(t, "event", order[i])
		require.Equal(t, "mod", order[i+1])
	}
}
