package portal_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/meterbridge/internal/adapters/portal"
	"github.com/okian/meterbridge/internal/domain/completeness"
	"github.com/okian/meterbridge/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// fakePortal answers the login form and the consumption data endpoint.
type fakePortal struct {
	mu       sync.Mutex
	requests []map[string]any
	failDay  string
	provHour int // hour flagged provisional, -1 for none
	noStatus bool
	pad      bool // answer with one extra hour on each side
	logins   int
}

func (f *fakePortal) with(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakePortal) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, body)
		failDay, provHour, noStatus, pad := f.failDay, f.provHour, f.noStatus, f.pad
		f.mu.Unlock()

		params := body["screenData"].(map[string]any)["variables"].(map[string]any)["FilterParameters"].(map[string]any)
		startDate, endDate := params["StartDate"].(string), params["EndDate"].(string)
		if startDate[:10] == failDay {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		from, err1 := time.Parse(time.RFC3339, startDate)
		to, err2 := time.Parse(time.RFC3339, endDate)
		if err1 != nil || err2 != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if pad {
			from, to = from.Add(-time.Hour), to.Add(time.Hour)
		}

		var rows []string
		for h, ts := 0, from; !ts.After(to); h, ts = h+1, ts.Add(time.Hour) {
			status := `"Status":"Measured",`
			if h == provHour {
				status = `"Status":"Estimated",`
			}
			if noStatus {
				status = ""
			}
			consumption := `0.5`
			if h%2 == 1 {
				consumption = `"0.25"`
			}
			rows = append(rows, fmt.Sprintf(`{"DateFrom":"%s",%s"Consumption":%s}`, ts.Format(time.RFC3339), status, consumption))
		}
		_, _ = fmt.Fprintf(w, `{"data":{"Dataset":{"Data":{"List":[%s]},"Summary":{}}}}`, strings.Join(rows, ","))
	})
	return mux
}

func TestClient_Fetch(t *testing.T) {
	ctx := context.Background()
	mar7 := model.Day{Year: 2024, Month: time.March, Day: 7}
	mar8 := mar7.AddDays(1)

	Convey("Given a portal with hourly data", t, func() {
		fp := &fakePortal{provHour: -1}
		srv := httptest.NewServer(fp.routes())
		defer srv.Close()

		creds := portal.Credentials{
			LoginURL: srv.URL + "/login",
			DataURL:  srv.URL + "/data",
			Username: "alice",
			Password: "pw",
		}
		client := portal.NewClient(creds, portal.WithMeteringPoint("643000"), portal.WithTimeout(2*time.Second))

		Convey("When two days are fetched", func() {
			readings, err := client.Fetch(ctx, mar7, mar8)

			Convey("Then each day is requested separately after one login", func() {
				So(err, ShouldBeNil)
				So(readings, ShouldHaveLength, 48)

				var logins int
				var requests []map[string]any
				fp.with(func() { logins, requests = fp.logins, fp.requests })
				So(logins, ShouldEqual, 1)
				So(requests, ShouldHaveLength, 2)

				vars := requests[0]["screenData"].(map[string]any)["variables"].(map[string]any)
				params := vars["FilterParameters"].(map[string]any)
				So(params["StartDate"], ShouldEqual, "2024-03-07T00:00:00.000Z")
				So(params["EndDate"], ShouldEqual, "2024-03-07T23:59:59.000Z")
				So(params["PeriodId"], ShouldEqual, 9.0)
				So(params["MeteringPointId"], ShouldEqual, "643000")
				So(vars["IsHistoricaDataFetched"], ShouldBeTrue)
			})

			Convey("Then values and statuses are decoded", func() {
				So(readings[0].Timestamp.Equal(time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(readings[0].Value, ShouldEqual, 0.5)
				So(readings[1].Value, ShouldEqual, 0.25)
				So(readings[0].Status, ShouldEqual, model.StatusMeasured)
			})
		})

		Convey("When one hour is estimated", func() {
			fp.with(func() { fp.provHour = 5 })
			readings, err := client.Fetch(ctx, mar7, mar7)
			So(err, ShouldBeNil)
			So(readings[5].Status, ShouldEqual, model.StatusProvisional)
		})

		Convey("When rows carry no status flag", func() {
			fp.with(func() { fp.noStatus = true })

			Convey("Then the configured default status applies", func() {
				strict := portal.NewClient(creds, portal.WithMissingStatus(model.StatusUnknown))
				readings, err := strict.Fetch(ctx, mar7, mar7)
				So(err, ShouldBeNil)
				So(readings[0].Status, ShouldEqual, model.StatusUnknown)

				readings, err = client.Fetch(ctx, mar7, mar7)
				So(err, ShouldBeNil)
				So(readings[0].Status, ShouldEqual, model.StatusMeasured)
			})
		})

		Convey("When a day fails on the portal", func() {
			fp.with(func() { fp.failDay = "2024-03-08" })
			readings, err := client.Fetch(ctx, mar7, mar8)

			Convey("Then the whole fetch fails instead of returning partial data", func() {
				So(readings, ShouldBeNil)
				So(errors.Is(err, portal.ErrSourceUnavailable), ShouldBeTrue)
				So(errors.Is(err, portal.ErrUnexpectedStatus), ShouldBeTrue)
			})
		})

		Convey("When the credentials are wrong", func() {
			creds.Password = "wrong"
			_, err := portal.NewClient(creds).Fetch(ctx, mar7, mar7)

			Convey("Then login fails", func() {
				So(errors.Is(err, portal.ErrSourceUnavailable), ShouldBeTrue)
				So(errors.Is(err, portal.ErrLoginFailed), ShouldBeTrue)
			})
		})

		Convey("When the range is reversed", func() {
			_, err := client.Fetch(ctx, mar8, mar7)
			So(errors.Is(err, portal.ErrInvalidRange), ShouldBeTrue)
		})
	})

	Convey("Given a portal answering with garbage", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/data" {
				_, _ = w.Write([]byte(`{"data":{"Dataset":{"Data":{"List":[{"DateFrom":"yesterday","Consumption":1}]}}}}`))
			}
		}))
		defer srv.Close()

		client := portal.NewClient(portal.Credentials{LoginURL: srv.URL + "/login", DataURL: srv.URL + "/data"})
		_, err := client.Fetch(ctx, mar7, mar7)

		Convey("Then the payload is reported malformed", func() {
			So(errors.Is(err, portal.ErrMalformedPayload), ShouldBeTrue)
		})
	})
}

func TestClient_FetchLocalDays(t *testing.T) {
	ctx := context.Background()
	mar5 := model.Day{Year: 2024, Month: time.March, Day: 5}
	mar8 := mar5.AddDays(3)

	Convey("Given a portal and a client in Europe/Helsinki", t, func() {
		hel, err := time.LoadLocation("Europe/Helsinki")
		So(err, ShouldBeNil)

		fp := &fakePortal{provHour: -1}
		srv := httptest.NewServer(fp.routes())
		defer srv.Close()

		creds := portal.Credentials{
			LoginURL: srv.URL + "/login",
			DataURL:  srv.URL + "/data",
			Username: "alice",
			Password: "pw",
		}
		client := portal.NewClient(creds, portal.WithLocation(hel))
		filter := completeness.New(
			completeness.WithLocation(hel),
			completeness.WithClock(model.FixedClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))),
		)

		Convey("When four local days are fetched", func() {
			readings, err := client.Fetch(ctx, mar5, mar8)
			So(err, ShouldBeNil)

			Convey("Then each request spans the local day in UTC", func() {
				var requests []map[string]any
				fp.with(func() { requests = fp.requests })
				So(requests, ShouldHaveLength, 4)
				params := requests[0]["screenData"].(map[string]any)["variables"].(map[string]any)["FilterParameters"].(map[string]any)
				So(params["StartDate"], ShouldEqual, "2024-03-04T22:00:00.000Z")
				So(params["EndDate"], ShouldEqual, "2024-03-05T21:59:59.000Z")
			})

			Convey("Then every day passes the completeness gate", func() {
				So(readings, ShouldHaveLength, 96)
				run, verdicts := filter.Leading(readings, mar5, mar8)
				So(run, ShouldHaveLength, 96)
				So(verdicts, ShouldHaveLength, 4)
				for _, v := range verdicts {
					So(v.Reason, ShouldEqual, completeness.ReasonEligible)
					So(v.Hours, ShouldEqual, 24)
				}
				So(readings[0].Day(hel), ShouldResemble, mar5)
			})
		})

		Convey("When the portal pads the window with neighbouring hours", func() {
			fp.with(func() { fp.pad = true })
			readings, err := client.Fetch(ctx, mar5, mar5)

			Convey("Then only the requested day is kept", func() {
				So(err, ShouldBeNil)
				So(readings, ShouldHaveLength, 24)
				for _, r := range readings {
					So(r.Day(hel), ShouldResemble, mar5)
				}
			})
		})

		Convey("When the day starts daylight saving time", func() {
			mar31 := model.Day{Year: 2024, Month: time.March, Day: 31}
			readings, err := client.Fetch(ctx, mar31, mar31)

			Convey("Then it has 23 hours and still passes the gate", func() {
				So(err, ShouldBeNil)
				So(readings, ShouldHaveLength, 23)
				late := completeness.New(
					completeness.WithLocation(hel),
					completeness.WithClock(model.FixedClock(time.Date(2024, 4, 5, 9, 0, 0, 0, time.UTC))),
				)
				run, _ := late.Leading(readings, mar31, mar31)
				So(run, ShouldHaveLength, 23)
			})
		})
	})
}
