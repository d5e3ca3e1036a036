package airquality

import (
	"time"
)

// Kind identifies an entity kind that carries its own freshness marker.
type Kind string

const (
	KindStationList  Kind = "station_list"
	KindStationMeta  Kind = "station_meta"
	KindSensors      Kind = "sensors"
	KindAQIndex      Kind = "aq_index"
	KindSensorSeries Kind = "sensor_series"
	// KindSensorArchive is not a sync time: its marker holds how far the
	// archive has been queried for a sensor.
	KindSensorArchive Kind = "sensor_archive"
)

// GlobalScope is the marker scope for kinds that are not tied to a station or sensor.
const GlobalScope int64 = 0

// OverallQuantity is the quantity codename of a station's overall air quality index.
const OverallQuantity = "OVERALL"

// IndexQuantities lists the quantities for which the remote publishes an index.
var IndexQuantities = []string{OverallQuantity, "NO2", "O3", "PM10", "PM2.5", "SO2"}

// NoIndex is the index value used when no index has been computed.
const NoIndex = -1

var indexCategories = map[int]string{
	-1: "no index",
	0:  "very good",
	1:  "good",
	2:  "moderate",
	3:  "bad",
	4:  "very bad",
	5:  "no index",
}

// IndexCategory returns the human-readable category of an index value.
func IndexCategory(value int) string {
	if name, ok := indexCategories[value]; ok {
		return name
	}
	return indexCategories[NoIndex]
}

// Station is a measurement station as published by the remote.
type Station struct {
	ID          int64   `json:"id"`
	Codename    string  `json:"codename"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	District    string  `json:"district"`
	Voivodeship string  `json:"voivodeship"`
	Address     string  `json:"address"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// StationMeta holds the registry metadata of a station.
// ShutdownDate is nil while the station is still operating.
type StationMeta struct {
	StationID             int64      `json:"stationId"`
	StationCodename       string     `json:"stationCodename"`
	InternationalCodename string     `json:"internationalCodename"`
	LaunchDate            time.Time  `json:"launchDate"`
	ShutdownDate          *time.Time `json:"shutdownDate,omitempty"`
	Type                  string     `json:"type"`
}

// Sensor is a measurement position of a station.
type Sensor struct {
	ID        int64  `json:"id"`
	StationID int64  `json:"stationId"`
	Codename  string `json:"codename"`
	Name      string `json:"name"`
}

// AQIndex is the current index snapshot for a (station, quantity) pair.
// Status and CriticalPollutant are only set on the OVERALL snapshot.
type AQIndex struct {
	StationID         int64     `json:"stationId"`
	Quantity          string    `json:"quantity"`
	Value             int       `json:"value"`
	Category          string    `json:"category"`
	ComputedAt        time.Time `json:"computedAt,omitempty"`
	Status            *bool     `json:"status,omitempty"`
	CriticalPollutant string    `json:"criticalPollutant,omitempty"`
}

// SensorDataPoint is a single reading. Timestamp is always UTC.
type SensorDataPoint struct {
	SensorID  int64     `json:"sensorId"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// CachedRange is the oldest and latest timestamp stored for a sensor.
type CachedRange struct {
	Oldest time.Time
	Latest time.Time
}
