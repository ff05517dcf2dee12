package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/okian/meterbridge/internal/adapters/mq/queue"
	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/internal/scheduler"
	. "github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	mu       sync.Mutex
	triggers []model.Trigger
	fired    chan model.TriggerReason
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan model.TriggerReason, 8)}
}

func (r *recorder) Enqueue(_ context.Context, t model.Trigger) error {
	r.mu.Lock()
	r.triggers = append(r.triggers, t)
	r.mu.Unlock()
	r.fired <- t.Reason
	return nil
}

type pending struct {
	mu sync.Mutex
	at time.Time
	ok bool
}

func (p *pending) Pending() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.at, p.ok
}

func (p *pending) set(at time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.at, p.ok = at, ok
}

func waitReason(ch <-chan model.TriggerReason, d time.Duration) (model.TriggerReason, bool) {
	select {
	case r := <-ch:
		return r, true
	case <-time.After(d):
		return "", false
	}
}

func TestScheduler_NextRun(t *testing.T) {
	Convey("Given a daily run at 08:15 in Helsinki", t, func() {
		helsinki, err := time.LoadLocation("Europe/Helsinki")
		So(err, ShouldBeNil)
		s := scheduler.New(newRecorder(), scheduler.WithDailyRun(8, 15, helsinki))

		Convey("Before the run time it is today", func() {
			now := time.Date(2024, 3, 10, 7, 0, 0, 0, helsinki)
			So(s.NextRun(now).Equal(time.Date(2024, 3, 10, 8, 15, 0, 0, helsinki)), ShouldBeTrue)
		})

		Convey("At or after the run time it is tomorrow", func() {
			now := time.Date(2024, 3, 10, 8, 15, 0, 0, helsinki)
			So(s.NextRun(now).Equal(time.Date(2024, 3, 11, 8, 15, 0, 0, helsinki)), ShouldBeTrue)
		})

		Convey("Across the spring DST change it keeps local wall time", func() {
			now := time.Date(2024, 3, 30, 9, 0, 0, 0, helsinki)
			next := s.NextRun(now)
			So(next.In(helsinki).Hour(), ShouldEqual, 8)
			So(next.Sub(now), ShouldEqual, 22*time.Hour+15*time.Minute)
		})

		Convey("A UTC instant is converted to the local day first", func() {
			now := time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC) // 00:30 on the 11th in Helsinki
			So(s.NextRun(now).Equal(time.Date(2024, 3, 11, 8, 15, 0, 0, helsinki)), ShouldBeTrue)
		})
	})
}

func TestScheduler_Triggers(t *testing.T) {
	ctx := context.Background()

	Convey("Given a scheduler that runs on start", t, func() {
		rec := newRecorder()
		s := scheduler.New(rec, scheduler.WithRunOnStart(true))
		s.Start(ctx)
		defer s.Stop()

		reason, ok := waitReason(rec.fired, time.Second)
		So(ok, ShouldBeTrue)
		So(reason, ShouldEqual, model.TriggerStartup)
	})

	Convey("Given a retry deadline already in the past at start", t, func() {
		rec := newRecorder()
		p := &pending{}
		p.set(time.Now().Add(-time.Minute), true)
		s := scheduler.New(rec, scheduler.WithRetry(p))
		s.Start(ctx)
		defer s.Stop()

		Convey("Then the retry fires immediately", func() {
			reason, ok := waitReason(rec.fired, time.Second)
			So(ok, ShouldBeTrue)
			So(reason, ShouldEqual, model.TriggerRetry)
		})
	})

	Convey("Given a retry deadline shortly in the future", t, func() {
		rec := newRecorder()
		p := &pending{}
		p.set(time.Now().Add(50*time.Millisecond), true)
		s := scheduler.New(rec, scheduler.WithRetry(p))
		s.Start(ctx)
		defer s.Stop()

		Convey("Then it fires once the deadline passes", func() {
			reason, ok := waitReason(rec.fired, time.Second)
			So(ok, ShouldBeTrue)
			So(reason, ShouldEqual, model.TriggerRetry)
		})

		Convey("And it is disarmed when the retry clears first", func() {
			p.set(time.Time{}, false)
			s.ArmRetry(ctx)
			_, ok := waitReason(rec.fired, 200*time.Millisecond)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given no pending retry and no run on start", t, func() {
		rec := newRecorder()
		s := scheduler.New(rec, scheduler.WithRetry(&pending{}))
		s.Start(ctx)
		s.Stop()

		Convey("Then nothing fires before the daily run", func() {
			_, ok := waitReason(rec.fired, 100*time.Millisecond)
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given a real capacity-one queue", t, func() {
		q := queue.NewInMemoryQueue()
		p := &pending{}
		p.set(time.Now().Add(-time.Second), true)
		s := scheduler.New(q, scheduler.WithRunOnStart(true), scheduler.WithRetry(p))
		s.Start(ctx)
		defer s.Stop()

		Convey("Then the startup and retry triggers coalesce into one cycle", func() {
			time.Sleep(100 * time.Millisecond)
			So(q.Len(ctx), ShouldEqual, 1)
		})
	})
}
