package events_test

import (
	"testing"

	"flowscribe/internal/events"
)

func TestDispatchReachesMatchingSubscribers(t *testing.T) {
	bus := events.NewBus()
	var quota, all int
	unsubscribe := bus.Subscribe(events.StorageQuotaExceeded, func(ev events.Event) {
		if ev.Name != events.StorageQuotaExceeded {
			t.Errorf("unexpected event %q", ev.Name)
		}
		quota++
	})
	bus.Subscribe("", func(events.Event) { all++ })

	bus.Dispatch(events.StorageQuotaExceeded)
	bus.Dispatch("flowscribe:other")
	if quota != 1 || all != 2 {
		t.Fatalf("unexpected deliveries quota=%d all=%d", quota, all)
	}

	unsubscribe()
	bus.Dispatch(events.StorageQuotaExceeded)
	if quota != 1 {
		t.Fatal("expected unsubscribed handler to stop receiving events")
	}
	if bus.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.Subscribers())
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var bus *events.Bus
	bus.Dispatch(events.StorageQuotaExceeded)
}

func TestHandlerMayUnsubscribeDuringDispatch(t *testing.T) {
	var bus events.Bus
	var unsubscribe func()
	calls := 0
	unsubscribe = bus.Subscribe(events.StorageQuotaExceeded, func(events.Event) {
		calls++
		unsubscribe()
	})
	bus.Dispatch(events.StorageQuotaExceeded)
	bus.Dispatch(events.StorageQuotaExceeded)
	if calls != 1 {
		t.Fatalf("expected a single delivery, got %d", calls)
	}
}
