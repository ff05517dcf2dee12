package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDay(t *testing.T) {
	Convey("Given civil days", t, func() {
		helsinki, err := time.LoadLocation("Europe/Helsinki")
		So(err, ShouldBeNil)

		Convey("When deriving the day of an instant", func() {
			ts := time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC)

			Convey("Then the location decides the calendar date", func() {
				So(model.DayOf(ts, time.UTC).String(), ShouldEqual, "2024-03-01")
				So(model.DayOf(ts, helsinki).String(), ShouldEqual, "2024-03-02")
				So(model.DayOf(ts, nil).String(), ShouldEqual, "2024-03-01")
			})
		})

		Convey("When shifting and comparing days", func() {
			d := model.Day{Year: 2024, Month: time.February, Day: 28}

			So(d.AddDays(1).String(), ShouldEqual, "2024-02-29")
			So(d.AddDays(2).String(), ShouldEqual, "2024-03-01")
			So(d.AddDays(-28).String(), ShouldEqual, "2024-01-31")
			So(d.Before(d.AddDays(1)), ShouldBeTrue)
			So(d.After(d.AddDays(-1)), ShouldBeTrue)
			So(d.After(d), ShouldBeFalse)
			So(d.Before(d), ShouldBeFalse)
		})

		Convey("When measuring day length across DST", func() {
			spring := model.Day{Year: 2024, Month: time.March, Day: 31}
			autumn := model.Day{Year: 2024, Month: time.October, Day: 27}

			So(spring.Hours(helsinki), ShouldEqual, 23)
			So(autumn.Hours(helsinki), ShouldEqual, 25)
			So(spring.Hours(time.UTC), ShouldEqual, 24)
		})

		Convey("When encoding to JSON", func() {
			d := model.Day{Year: 2024, Month: time.March, Day: 8}
			b, err := json.Marshal(d)
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, `"2024-03-08"`)

			var back model.Day
			So(json.Unmarshal(b, &back), ShouldBeNil)
			So(back, ShouldResemble, d)

			var zero model.Day
			So(json.Unmarshal([]byte("null"), &zero), ShouldBeNil)
			So(zero.IsZero(), ShouldBeTrue)

			b, err = json.Marshal(model.Day{})
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, "null")
		})

		Convey("When parsing an invalid day", func() {
			_, err := model.ParseDay("2024-13-01")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestStatusAndMetadata(t *testing.T) {
	Convey("Given portal status flags", t, func() {
		So(model.ParseStatus("Measured"), ShouldEqual, model.StatusMeasured)
		So(model.ParseStatus(" final "), ShouldEqual, model.StatusMeasured)
		So(model.ParseStatus("estimated"), ShouldEqual, model.StatusProvisional)
		So(model.ParseStatus(""), ShouldEqual, model.StatusUnknown)
		So(model.ParseStatus("bogus"), ShouldEqual, model.StatusUnknown)
		So(model.StatusProvisional.String(), ShouldEqual, "provisional")
	})

	Convey("Given a statistic id", t, func() {
		Convey("When it has an external source prefix", func() {
			md := model.NewSumMetadata("tampereen_energia:consumption", "Consumption", "kWh")
			So(md.Source, ShouldEqual, "tampereen_energia")
			So(md.HasSum, ShouldBeTrue)
			So(md.HasMean, ShouldBeFalse)
		})

		Convey("When it is an entity id", func() {
			md := model.NewSumMetadata("sensor.consumption", "Consumption", "kWh")
			So(md.Source, ShouldEqual, "recorder")
		})
	})
}
