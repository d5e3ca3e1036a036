package gios

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

const (
	stationsEndpoint = "station/findAll"
	stationsTarget   = "Lista stacji pomiarowych"

	metaEndpoint = "metadata/stations"
	metaTarget   = "Lista metadanych stacji pomiarowych"

	sensorsEndpoint = "station/sensors/%d"
	sensorsTarget   = "Lista stanowisk pomiarowych dla podanej stacji"

	indexEndpoint = "aqindex/getIndex/%d"
	indexTarget   = "AqIndex"

	liveEndpoint = "data/getData/%d"
	liveTarget   = "Lista danych pomiarowych"

	archivalEndpoint = "archivalData/getDataBySensor/%d"
	archivalTarget   = "Lista archiwalnych wyników pomiarów"
)

var _ airquality.Source = (*Client)(nil)

func decodeList[T any](c Collection, endpoint string) ([]T, error) {
	if c.Shape != ShapeList {
		return nil, fmt.Errorf("%w: %s: expected a list, got %s", airquality.ErrMalformedResponse, endpoint, c.Shape)
	}
	out := make([]T, 0, len(c.List))
	for i, raw := range c.List {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s item %d: %v", airquality.ErrMalformedResponse, endpoint, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// FetchStations returns every station.
func (c *Client) FetchStations(ctx context.Context) ([]airquality.Station, error) {
	coll, err := c.FetchAll(ctx, stationsEndpoint, stationsTarget, nil)
	if err != nil {
		return nil, err
	}
	dtos, err := decodeList[stationDTO](coll, stationsEndpoint)
	if err != nil {
		return nil, err
	}
	stations := make([]airquality.Station, 0, len(dtos))
	for _, d := range dtos {
		stations = append(stations, d.toStation())
	}
	return stations, nil
}

// FetchStationMeta returns the metadata rows matching a station codename.
func (c *Client) FetchStationMeta(ctx context.Context, stationCodename string) ([]airquality.StationMeta, error) {
	params := url.Values{}
	if stationCodename != "" {
		params.Set("kod-stacji", stationCodename)
	}
	coll, err := c.FetchAll(ctx, metaEndpoint, metaTarget, params)
	if err != nil {
		return nil, err
	}
	dtos, err := decodeList[stationMetaDTO](coll, metaEndpoint)
	if err != nil {
		return nil, err
	}
	metas := make([]airquality.StationMeta, 0, len(dtos))
	for _, d := range dtos {
		m, err := d.toMeta(c.location)
		if err != nil {
			return nil, fmt.Errorf("station %q: %w", d.Codename, err)
		}
		metas = append(metas, m)
	}
	return metas, nil
}

// FetchSensors returns the sensors of a station.
func (c *Client) FetchSensors(ctx context.Context, stationID int64) ([]airquality.Sensor, error) {
	endpoint := fmt.Sprintf(sensorsEndpoint, stationID)
	coll, err := c.FetchAll(ctx, endpoint, sensorsTarget, nil)
	if err != nil {
		return nil, err
	}
	dtos, err := decodeList[sensorDTO](coll, endpoint)
	if err != nil {
		return nil, err
	}
	sensors := make([]airquality.Sensor, 0, len(dtos))
	for _, d := range dtos {
		sensors = append(sensors, airquality.Sensor{
			ID:        d.ID,
			StationID: stationID,
			Codename:  d.Codename,
			Name:      d.Name,
		})
	}
	return sensors, nil
}

// FetchAQIndexes returns the overall and per-pollutant index snapshots of a station.
func (c *Client) FetchAQIndexes(ctx context.Context, stationID int64) ([]airquality.AQIndex, error) {
	endpoint := fmt.Sprintf(indexEndpoint, stationID)
	coll, err := c.FetchAll(ctx, endpoint, indexTarget, nil)
	if err != nil {
		return nil, err
	}
	if coll.Shape != ShapeMap {
		return nil, fmt.Errorf("%w: %s: expected a map, got %s", airquality.ErrMalformedResponse, endpoint, coll.Shape)
	}
	return decodeIndexes(coll.Map, stationID, c.location)
}

// FetchLiveData returns the recent readings the remote keeps for a sensor.
func (c *Client) FetchLiveData(ctx context.Context, sensorID int64) ([]airquality.SensorDataPoint, error) {
	return c.streamReadings(ctx, fmt.Sprintf(liveEndpoint, sensorID), liveTarget, nil, sensorID)
}

// FetchArchivalData returns historical readings of a sensor within [from, to].
func (c *Client) FetchArchivalData(ctx context.Context, sensorID int64, from, to time.Time) ([]airquality.SensorDataPoint, error) {
	params := url.Values{}
	params.Set("dateFrom", from.In(c.location).Format(archivalDateLayout))
	params.Set("dateTo", to.In(c.location).Format(archivalDateLayout))
	return c.streamReadings(ctx, fmt.Sprintf(archivalEndpoint, sensorID), archivalTarget, params, sensorID)
}

func (c *Client) streamReadings(
	ctx context.Context,
	endpoint, target string,
	params url.Values,
	sensorID int64,
) ([]airquality.SensorDataPoint, error) {
	var points []airquality.SensorDataPoint
	err := c.ForEachPage(ctx, endpoint, target, params, func(n int, fragment json.RawMessage) error {
		if shape, err := shapeOf(fragment); err != nil || shape != ShapeList {
			return fmt.Errorf("%w: %s page %d: expected a list", airquality.ErrMalformedResponse, endpoint, n)
		}
		page, err := decodeDataPoints(fragment, sensorID, c.location)
		if err != nil {
			return fmt.Errorf("%s page %d: %w", endpoint, n, err)
		}
		points = append(points, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}
