package station_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"camstore/internal/model"
	"camstore/internal/station"
)

func TestScheduler_NextRun(t *testing.T) {
	f := newFixture(t, station.Options{})
	s := station.NewScheduler(f.svc, 23, 55, false)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			want: time.Date(2024, 1, 15, 23, 55, 0, 0, time.UTC),
		},
		{
			name: "exactly at run time moves to tomorrow",
			now:  time.Date(2024, 1, 15, 23, 55, 0, 0, time.UTC),
			want: time.Date(2024, 1, 16, 23, 55, 0, 0, time.UTC),
		},
		{
			name: "after run time",
			now:  time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC),
			want: time.Date(2024, 1, 16, 23, 55, 0, 0, time.UTC),
		},
		{
			name: "end of month",
			now:  time.Date(2024, 1, 31, 23, 56, 0, 0, time.UTC),
			want: time.Date(2024, 2, 1, 23, 55, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.NextRun(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	f := newFixture(t, station.Options{RetireArchived: true})
	today := f.ingest(t, "", capture(9, 0, 0), score(10), false)
	other := f.ingest(t, "", time.Date(2024, 1, 14, 9, 0, 0, 0, time.Local), score(10), false)

	s := station.NewScheduler(f.svc, 23, 55, true)
	s.RunOnce(context.Background())

	if _, err := f.svc.Snapshot("20240115"); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	images, _ := f.svc.Collection(model.KindImages)
	if _, ok := images[today.ID]; ok {
		t.Error("archived entry not reclaimed from working set")
	}
	if _, ok := images[other.ID]; !ok {
		t.Error("entry from another date reclaimed")
	}

	ops, _ := f.svc.History(10)
	if len(ops) != 2 || ops[0].Operation != "cleanup" || ops[1].Operation != "backup" {
		t.Errorf("history = %+v, want backup then cleanup", ops)
	}
}

func TestScheduler_ServeStopsOnCancel(t *testing.T) {
	f := newFixture(t, station.Options{})
	s := station.NewScheduler(f.svc, 23, 55, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
