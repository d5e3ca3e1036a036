package gios

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Warsaw on hosts without a zone database

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

// Layouts the remote uses for wall-clock timestamps, most specific first.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// archivalDateLayout formats dateFrom/dateTo of archival queries.
const archivalDateLayout = "2006-01-02 15:04"

// flexFloat accepts numbers, numeric strings (with a decimal comma) and null.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = flexFloat{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if s == "" {
			*f = flexFloat{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat{Value: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

// flexInt accepts integers, integer strings and null.
type flexInt struct {
	Value int64
	Valid bool
}

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	*n = flexInt{Value: int64(f.Value), Valid: f.Valid}
	return nil
}

func parseLocalTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", airquality.ErrMalformedResponse, s)
}

func parseOptionalTime(s *string, loc *time.Location) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := parseLocalTime(*s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type stationDTO struct {
	ID          int64     `json:"Identyfikator stacji"`
	Codename    string    `json:"Kod stacji"`
	Name        string    `json:"Nazwa stacji"`
	Latitude    flexFloat `json:"WGS84 φ N"`
	Longitude   flexFloat `json:"WGS84 λ E"`
	City        string    `json:"Nazwa miasta"`
	District    string    `json:"Powiat"`
	Voivodeship string    `json:"Województwo"`
	Address     string    `json:"Ulica"`
}

func (d stationDTO) toStation() airquality.Station {
	return airquality.Station{
		ID:          d.ID,
		Codename:    d.Codename,
		Name:        d.Name,
		City:        d.City,
		District:    d.District,
		Voivodeship: d.Voivodeship,
		Address:     d.Address,
		Latitude:    d.Latitude.Value,
		Longitude:   d.Longitude.Value,
	}
}

type stationMetaDTO struct {
	Codename              string  `json:"Kod stacji"`
	InternationalCodename string  `json:"Kod międzynarodowy"`
	LaunchDate            *string `json:"Data uruchomienia"`
	ShutdownDate          *string `json:"Data zamknięcia"`
	Type                  string  `json:"Rodzaj stacji"`
}

func (d stationMetaDTO) toMeta(loc *time.Location) (airquality.StationMeta, error) {
	meta := airquality.StationMeta{
		StationCodename:       d.Codename,
		InternationalCodename: d.InternationalCodename,
		Type:                  d.Type,
	}
	launch, err := parseOptionalTime(d.LaunchDate, loc)
	if err != nil {
		return meta, fmt.Errorf("launch date: %w", err)
	}
	if launch != nil {
		meta.LaunchDate = *launch
	}
	if meta.ShutdownDate, err = parseOptionalTime(d.ShutdownDate, loc); err != nil {
		return meta, fmt.Errorf("shutdown date: %w", err)
	}
	return meta, nil
}

type sensorDTO struct {
	ID        int64  `json:"Identyfikator stanowiska"`
	StationID int64  `json:"Identyfikator stacji"`
	Name      string `json:"Wskaźnik"`
	Codename  string `json:"Wskaźnik - kod"`
}

type dataPointDTO struct {
	Date  string    `json:"Data"`
	Value flexFloat `json:"Wartość"`
}

// decodeDataPoints decodes one page of readings, skipping null values.
func decodeDataPoints(fragment json.RawMessage, sensorID int64, loc *time.Location) ([]airquality.SensorDataPoint, error) {
	var dtos []dataPointDTO
	if err := json.Unmarshal(fragment, &dtos); err != nil {
		return nil, fmt.Errorf("%w: readings: %v", airquality.ErrMalformedResponse, err)
	}
	points := make([]airquality.SensorDataPoint, 0, len(dtos))
	for _, d := range dtos {
		if !d.Value.Valid {
			continue
		}
		ts, err := parseLocalTime(d.Date, loc)
		if err != nil {
			return nil, err
		}
		points = append(points, airquality.SensorDataPoint{
			SensorID:  sensorID,
			Timestamp: ts,
			Value:     d.Value.Value,
		})
	}
	return points, nil
}

const (
	overallValueKey = "Wartość indeksu"
	overallDateKey  = "Data wykonania obliczeń indeksu"
	quantityValue   = "Wartość indeksu dla wskaźnika %s"
	quantityDate    = "Data wykonania obliczeń indeksu dla wskaźnika %s"
	statusKey       = "Status indeksu ogólnego dla stacji pomiarowej"
	criticalKey     = "Kod zanieczyszczenia krytycznego"
)

// decodeIndexes turns the merged AqIndex mapping into one snapshot per
// quantity. Quantities with a null value get NoIndex.
func decodeIndexes(fields map[string]json.RawMessage, stationID int64, loc *time.Location) ([]airquality.AQIndex, error) {
	out := make([]airquality.AQIndex, 0, len(airquality.IndexQuantities))
	for _, q := range airquality.IndexQuantities {
		valueKey, dateKey := overallValueKey, overallDateKey
		if q != airquality.OverallQuantity {
			valueKey, dateKey = fmt.Sprintf(quantityValue, q), fmt.Sprintf(quantityDate, q)
		}

		raw, ok := fields[valueKey]
		if !ok {
			continue
		}
		var value flexInt
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", airquality.ErrMalformedResponse, valueKey, err)
		}
		idx := airquality.AQIndex{
			StationID: stationID,
			Quantity:  q,
			Value:     airquality.NoIndex,
		}
		if value.Valid {
			idx.Value = int(value.Value)
		}
		idx.Category = airquality.IndexCategory(idx.Value)

		if rawDate, ok := fields[dateKey]; ok && !isNull(rawDate) {
			var s string
			if err := json.Unmarshal(rawDate, &s); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", airquality.ErrMalformedResponse, dateKey, err)
			}
			at, err := parseOptionalTime(&s, loc)
			if err != nil {
				return nil, err
			}
			if at != nil {
				idx.ComputedAt = *at
			}
		}
		if q == airquality.OverallQuantity {
			if err := decodeOverallStatus(fields, &idx); err != nil {
				return nil, err
			}
		}
		out = append(out, idx)
	}
	return out, nil
}

// decodeOverallStatus copies the station-wide status flag and critical
// pollutant code onto the overall snapshot. Both may be absent or null.
func decodeOverallStatus(fields map[string]json.RawMessage, idx *airquality.AQIndex) error {
	if raw, ok := fields[statusKey]; ok {
		if err := json.Unmarshal(raw, &idx.Status); err != nil {
			return fmt.Errorf("%w: %s: %v", airquality.ErrMalformedResponse, statusKey, err)
		}
	}
	if raw, ok := fields[criticalKey]; ok {
		var code *string
		if err := json.Unmarshal(raw, &code); err != nil {
			return fmt.Errorf("%w: %s: %v", airquality.ErrMalformedResponse, criticalKey, err)
		}
		if code != nil {
			idx.CriticalPollutant = *code
		}
	}
	return nil
}
