package mqtt_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/meterbridge/internal/adapters/mqtt"
	"github.com/okian/meterbridge/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type token struct {
	done chan struct{}
	err  error
}

func newToken(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { <-t.done; return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeConn records what a broker would receive.
type fakeConn struct {
	mu          sync.Mutex
	connectErr  error
	publishErr  error
	hang        bool
	connects    int
	disconnects int
	messages    []message
}

func (c *fakeConn) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.hang {
		return &token{done: make(chan struct{})}
	}
	return newToken(c.connectErr)
}

func (c *fakeConn) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return newToken(c.publishErr)
}

func (c *fakeConn) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func dayReadings(d model.Day, loc *time.Location) []model.Reading {
	start := d.Start(loc)
	rs := make([]model.Reading, 0, 26)
	// one hour of the previous day and one of the next
	rs = append(rs, model.Reading{Timestamp: start.Add(-time.Hour), Value: 9, Status: model.StatusMeasured})
	for h := 0; h < 24; h++ {
		rs = append(rs, model.Reading{Timestamp: start.Add(time.Duration(h) * time.Hour), Value: 0.125, Status: model.StatusMeasured})
	}
	rs = append(rs, model.Reading{Timestamp: d.End(loc), Value: 9, Status: model.StatusMeasured})
	return rs
}

func TestPublisher_PublishDay(t *testing.T) {
	ctx := context.Background()
	mar8 := model.Day{Year: 2024, Month: time.March, Day: 8}
	now := time.Date(2024, 3, 10, 6, 15, 0, 0, time.UTC)

	Convey("Given a publisher for a metering point", t, func() {
		hel, err := time.LoadLocation("Europe/Helsinki")
		So(err, ShouldBeNil)
		conn := &fakeConn{}
		p := mqtt.NewPublisher("tcp://broker:1883",
			mqtt.WithConn(conn),
			mqtt.WithMeteringPoint("643000"),
			mqtt.WithLocation(hel),
			mqtt.WithClock(model.FixedClock(now)),
			mqtt.WithTimeout(time.Second),
		)

		Convey("When a day is published", func() {
			err := p.PublishDay(ctx, mar8, dayReadings(mar8, hel))
			So(err, ShouldBeNil)

			Convey("Then both discovery configs and the state are retained", func() {
				So(conn.connects, ShouldEqual, 1)
				So(conn.disconnects, ShouldEqual, 1)
				So(conn.messages, ShouldHaveLength, 3)
				So(conn.messages[0].topic, ShouldEqual, "homeassistant/sensor/tampereen_energia/date/config")
				So(conn.messages[1].topic, ShouldEqual, "homeassistant/sensor/tampereen_energia/total/config")
				So(conn.messages[2].topic, ShouldEqual, "tampereen_energia/state")
				for _, m := range conn.messages {
					So(m.retained, ShouldBeTrue)
				}
			})

			Convey("Then the total config points at the state topic", func() {
				var cfg map[string]any
				So(json.Unmarshal(conn.messages[1].payload, &cfg), ShouldBeNil)
				So(cfg["state_topic"], ShouldEqual, "tampereen_energia/state")
				So(cfg["value_template"], ShouldEqual, "{{ value_json.total_kwh }}")
				So(cfg["device_class"], ShouldEqual, "energy")
				So(cfg["unique_id"], ShouldEqual, "te_total_643000")
				dev := cfg["device"].(map[string]any)
				So(dev["identifiers"], ShouldResemble, []any{"te_643000"})
			})

			Convey("Then the state holds only the hours of that day", func() {
				var st mqtt.State
				So(json.Unmarshal(conn.messages[2].payload, &st), ShouldBeNil)
				So(st.Date, ShouldEqual, "2024-03-08")
				So(st.HourlyData, ShouldHaveLength, 24)
				So(st.TotalKWh, ShouldEqual, 3.0)
				So(st.Timestamp, ShouldEqual, "2024-03-10 08:15:00")
			})
		})

		Convey("When the day has no readings", func() {
			err := p.PublishDay(ctx, mar8.AddDays(5), dayReadings(mar8, hel))
			So(errors.Is(err, mqtt.ErrNoData), ShouldBeTrue)
			So(conn.connects, ShouldEqual, 0)
		})

		Convey("When the broker refuses the connection", func() {
			conn.connectErr = errors.New("not authorized")
			err := p.PublishDay(ctx, mar8, dayReadings(mar8, hel))
			So(errors.Is(err, mqtt.ErrConnect), ShouldBeTrue)
			So(conn.messages, ShouldBeEmpty)
		})

		Convey("When a publish fails", func() {
			conn.publishErr = errors.New("broken pipe")
			err := p.PublishDay(ctx, mar8, dayReadings(mar8, hel))
			So(errors.Is(err, mqtt.ErrPublish), ShouldBeTrue)
			So(conn.messages, ShouldHaveLength, 1)
			So(conn.disconnects, ShouldEqual, 1)
		})

		Convey("When the broker never answers", func() {
			conn.hang = true
			err := p.PublishDay(ctx, mar8, dayReadings(mar8, hel))
			So(errors.Is(err, mqtt.ErrTimeout), ShouldBeTrue)
		})
	})
}

func TestNewState(t *testing.T) {
	Convey("Given readings that do not sum cleanly", t, func() {
		d := model.Day{Year: 2024, Month: time.January, Day: 2}
		start := d.Start(time.UTC)
		rs := []model.Reading{
			{Timestamp: start, Value: 0.331},
			{Timestamp: start.Add(time.Hour), Value: 0.333},
			{Timestamp: start.Add(2 * time.Hour), Value: 0.334},
		}

		Convey("Then the total is rounded to two decimals", func() {
			st := mqtt.NewState(d, rs, nil, start)
			So(st.TotalKWh, ShouldEqual, 1.0)
			So(st.HourlyData, ShouldResemble, []float64{0.331, 0.333, 0.334})
			So(st.Timestamp, ShouldEqual, "2024-01-02 00:00:00")
		})
	})
}
