package sink

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
)

// Message types of the statistics store's websocket API.
const (
	typeAuthRequired = "auth_required"
	typeAuth         = "auth"
	typeAuthOK       = "auth_ok"
	typeAuthInvalid  = "auth_invalid"
	typeResult       = "result"

	typeStatisticsDuringPeriod = "recorder/statistics_during_period"
	typeImportStatistics       = "recorder/import_statistics"
)

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type statisticsQuery struct {
	ID           int          `json:"id"`
	Type         string       `json:"type"`
	StartTime    string       `json:"start_time"`
	StatisticIDs []string     `json:"statistic_ids"`
	Period       model.Period `json:"period"`
	Types        []string     `json:"types"`
}

type importCommand struct {
	ID       int                     `json:"id"`
	Type     string                  `json:"type"`
	Metadata model.StatisticMetadata `json:"metadata"`
	Stats    []model.StatisticEntry  `json:"stats"`
}

// envelope is the common shape of every inbound message.
type envelope struct {
	ID      int             `json:"id"`
	Type    string          `json:"type"`
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *RemoteError    `json:"error"`
	Message string          `json:"message"`
}

type rawPoint struct {
	Start json.RawMessage `json:"start"`
	Sum   *float64        `json:"sum"`
	State *float64        `json:"state"`
}

// decodePoints extracts one series from a statistics_during_period result.
// A series absent from the result has no history.
func decodePoints(result json.RawMessage, statisticID string) ([]model.StatisticPoint, error) {
	if len(result) == 0 || string(result) == "null" {
		return nil, fmt.Errorf("%w: empty result", ErrMalformedResponse)
	}
	var series map[string][]rawPoint
	if err := json.Unmarshal(result, &series); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	raw, ok := series[statisticID]
	if !ok {
		return nil, nil
	}

	points := make([]model.StatisticPoint, 0, len(raw))
	for i, rp := range raw {
		start, err := parseStart(rp.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: point %d: %w", ErrMalformedResponse, i, err)
		}
		if rp.Sum == nil {
			return nil, fmt.Errorf("%w: point %d has no sum", ErrMalformedResponse, i)
		}
		p := model.StatisticPoint{Start: start, Sum: *rp.Sum}
		if rp.State != nil {
			p.State = *rp.State
		}
		points = append(points, p)
	}
	return points, nil
}

// parseStart accepts epoch milliseconds or an RFC 3339 string.
func parseStart(b json.RawMessage) (time.Time, error) {
	if len(b) == 0 || string(b) == "null" {
		return time.Time{}, fmt.Errorf("missing start")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return t, nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, fmt.Errorf("invalid start %s", string(b))
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
