package sink_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/meterbridge/internal/adapters/sink"
	"github.com/okian/meterbridge/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const token = "secret-token"

// fakeStore is a scripted statistics store speaking the websocket API.
type fakeStore struct {
	mu         sync.Mutex
	points     string // raw JSON of the series' points
	rejectNext bool
	pushNoise  bool
	imported   [][]model.StatisticEntry
	queries    []map[string]any
}

func (f *fakeStore) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"type": "auth_required", "ha_version": "2024.3.0"})
		var auth map[string]any
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["type"] != "auth" || auth["access_token"] != token {
			_ = conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "Invalid access token"})
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "auth_ok"})

		for {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			id := int(cmd["id"].(float64))

			f.mu.Lock()
			if f.pushNoise {
				_ = conn.WriteJSON(map[string]any{"id": id + 100, "type": "result", "success": true, "result": nil})
				_ = conn.WriteJSON(map[string]any{"id": id, "type": "event", "event": map[string]any{"a": 1}})
			}
			switch cmd["type"] {
			case "recorder/statistics_during_period":
				f.queries = append(f.queries, cmd)
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"id":`+itoa(id)+`,"type":"result","success":true,"result":`+f.points+`}`))
			case "recorder/import_statistics":
				raw, _ := json.Marshal(cmd["stats"])
				var entries []model.StatisticEntry
				_ = json.Unmarshal(raw, &entries)
				if f.rejectNext {
					f.rejectNext = false
					_ = conn.WriteJSON(map[string]any{"id": id, "type": "result", "success": false,
						"error": map[string]any{"code": "invalid_format", "message": "Invalid timestamp"}})
				} else {
					f.imported = append(f.imported, entries)
					_ = conn.WriteJSON(map[string]any{"id": id, "type": "result", "success": true, "result": nil})
				}
			}
			f.mu.Unlock()
		}
	}
}

// with runs fn under the store's lock.
func (f *fakeStore) with(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	Convey("Given a statistics store", t, func() {
		store := &fakeStore{points: `{}`}
		srv := httptest.NewServer(store.handler(t))
		defer srv.Close()

		client := sink.NewClient(wsURL(srv), token,
			sink.WithTimeout(2*time.Second),
			sink.WithClock(model.FixedClock(now)))

		Convey("When the token is wrong", func() {
			bad := sink.NewClient(wsURL(srv), "nope", sink.WithTimeout(2*time.Second))
			_, err := bad.Open(ctx)

			Convey("Then opening fails hard", func() {
				So(errors.Is(err, sink.ErrAuthFailed), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "Invalid access token")
			})
		})

		Convey("When a session is opened", func() {
			s, err := client.Open(ctx)
			So(err, ShouldBeNil)
			defer s.Close()

			Convey("And the series has points in mixed start formats", func() {
				store.with(func() {
					store.points = `{"sensor:energy":[` +
						`{"start":"2024-03-01T22:00:00+00:00","sum":119.5,"state":0.5},` +
						`{"start":1709334000000,"sum":120.0,"state":0.5}]}`
					store.pushNoise = true
				})
				points, err := s.QueryLast(ctx, "sensor:energy", 30*24*time.Hour, model.PeriodHour)

				Convey("Then unrelated messages are skipped and points decoded in order", func() {
					So(err, ShouldBeNil)
					So(points, ShouldHaveLength, 2)
					So(points[1].Start.Equal(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)), ShouldBeTrue)
					So(points[1].Sum, ShouldEqual, 120.0)
				})

				Convey("Then the query names the series, period and window", func() {
					var queries []map[string]any
					store.with(func() { queries = store.queries })
					So(queries, ShouldHaveLength, 1)
					q := queries[0]
					So(q["period"], ShouldEqual, "hour")
					So(q["start_time"], ShouldEqual, "2024-02-09T08:00:00Z")
					So(q["statistic_ids"], ShouldResemble, []any{"sensor:energy"})
				})
			})

			Convey("And the series is unknown to the store", func() {
				points, err := s.QueryLast(ctx, "sensor:energy", time.Hour, model.PeriodHour)
				So(err, ShouldBeNil)
				So(points, ShouldBeEmpty)
			})

			Convey("And a point has no sum", func() {
				store.with(func() { store.points = `{"sensor:energy":[{"start":1709334000000,"sum":null}]}` })
				_, err := s.QueryLast(ctx, "sensor:energy", time.Hour, model.PeriodHour)

				Convey("Then the reply is malformed, not empty", func() {
					So(errors.Is(err, sink.ErrMalformedResponse), ShouldBeTrue)
				})
			})

			Convey("And a batch is imported", func() {
				meta := model.NewSumMetadata("sensor:energy", "Energy", "kWh")
				entries := []model.StatisticEntry{
					{Start: "2024-03-02T00:00:00Z", State: 0.5, Sum: 120.5},
					{Start: "2024-03-02T01:00:00Z", State: 0.25, Sum: 120.75},
				}
				err := s.Import(ctx, meta, entries)

				Convey("Then the store receives it whole", func() {
					So(err, ShouldBeNil)
					var imported [][]model.StatisticEntry
					store.with(func() { imported = store.imported })
					So(imported, ShouldHaveLength, 1)
					So(imported[0], ShouldResemble, entries)
				})

				Convey("And a rejected batch surfaces the store's error", func() {
					store.with(func() { store.rejectNext = true })
					err := s.Import(ctx, meta, entries)
					So(errors.Is(err, sink.ErrImportRejected), ShouldBeTrue)
					So(err.Error(), ShouldContainSubstring, "invalid_format")

					var remote *sink.RemoteError
					So(errors.As(err, &remote), ShouldBeTrue)
				})
			})

			Convey("And the session is closed", func() {
				So(s.Close(), ShouldBeNil)
				_, err := s.QueryLast(ctx, "sensor:energy", time.Hour, model.PeriodHour)
				So(errors.Is(err, sink.ErrClosed), ShouldBeTrue)
			})
		})
	})

	Convey("Given an endpoint that never answers the handshake", t, func() {
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			time.Sleep(time.Second)
		}))
		defer srv.Close()

		client := sink.NewClient(wsURL(srv), token, sink.WithTimeout(100*time.Millisecond))
		_, err := client.Open(ctx)

		Convey("Then the wait is bounded and auth fails", func() {
			So(errors.Is(err, sink.ErrAuthFailed), ShouldBeTrue)
		})
	})
}
