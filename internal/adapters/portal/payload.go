package portal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/meterbridge/internal/domain/model"
)

type filterParameters struct {
	StartDate       string `json:"StartDate"`
	EndDate         string `json:"EndDate"`
	PeriodID        int    `json:"PeriodId"`
	MeteringPointID string `json:"MeteringPointId,omitempty"`
}

type screenVariables struct {
	FilterParameters       filterParameters `json:"FilterParameters"`
	IsHistoricaDataFetched bool             `json:"IsHistoricaDataFetched"`
}

type dataRequest struct {
	ScreenData struct {
		Variables screenVariables `json:"variables"`
	} `json:"screenData"`
}

type dataResponse struct {
	Data *struct {
		Dataset struct {
			Data struct {
				List []row `json:"List"`
			} `json:"Data"`
		} `json:"Dataset"`
	} `json:"data"`
}

// row is one entry of the consumption list. Consumption arrives either as a
// JSON number or as a numeric string.
type row struct {
	DateFrom    string           `json:"DateFrom"`
	Consumption *decimal.Decimal `json:"Consumption"`
	Status      json.RawMessage  `json:"Status"`
}

// requestLayout is the portal's date format for filter bounds.
const requestLayout = "2006-01-02T15:04:05.000Z"

// newDataRequest asks for one civil day of loc. The bounds are that day's
// local midnight and last second, sent in UTC. Single-day windows make the
// portal answer in hourly resolution.
func newDataRequest(d model.Day, loc *time.Location, periodID int, meteringPoint string) dataRequest {
	var req dataRequest
	req.ScreenData.Variables = screenVariables{
		FilterParameters: filterParameters{
			StartDate:       d.Start(loc).UTC().Format(requestLayout),
			EndDate:         d.End(loc).Add(-time.Second).UTC().Format(requestLayout),
			PeriodID:        periodID,
			MeteringPointID: meteringPoint,
		},
		IsHistoricaDataFetched: true,
	}
	return req
}

// onDay keeps the readings that fall on d in loc. The portal may pad a
// window with neighbouring hours.
func onDay(readings []model.Reading, d model.Day, loc *time.Location) []model.Reading {
	out := readings[:0]
	for _, r := range readings {
		if r.Day(loc) == d {
			out = append(out, r)
		}
	}
	return out
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseStatus reads a string or numeric status flag. ok is false when the
// row carries none.
func parseStatus(raw json.RawMessage) (model.Status, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return model.StatusUnknown, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return model.StatusUnknown, false
		}
		return model.ParseStatus(s), true
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		switch n {
		case 1:
			return model.StatusMeasured, true
		case 2:
			return model.StatusProvisional, true
		}
	}
	return model.StatusUnknown, true
}

func (c *Client) toReadings(rows []row) ([]model.Reading, error) {
	out := make([]model.Reading, 0, len(rows))
	for i, r := range rows {
		ts, err := parseTimestamp(r.DateFrom, c.loc)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrMalformedPayload, i, err)
		}
		if r.Consumption == nil {
			return nil, fmt.Errorf("%w: row %d: missing consumption", ErrMalformedPayload, i)
		}
		status, ok := parseStatus(r.Status)
		if !ok {
			status = c.missingStatus
		}
		out = append(out, model.Reading{
			Timestamp: ts,
			Value:     r.Consumption.InexactFloat64(),
			Status:    status,
		})
	}
	return out, nil
}
