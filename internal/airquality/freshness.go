package airquality

import (
	"context"
	"fmt"
	"time"
)

const (
	StationListTTL = 24 * time.Hour
	AQIndexTTL     = time.Hour

	DefaultStationMetaTTL  = 7 * 24 * time.Hour
	DefaultSensorsTTL      = 24 * time.Hour
	DefaultSensorSeriesTTL = time.Hour
)

// TTLs holds the configurable part of the freshness table.
type TTLs struct {
	StationMeta  time.Duration
	Sensors      time.Duration
	SensorSeries time.Duration
}

// DefaultTTLs returns the defaults for the configurable TTLs.
func DefaultTTLs() TTLs {
	return TTLs{
		StationMeta:  DefaultStationMetaTTL,
		Sensors:      DefaultSensorsTTL,
		SensorSeries: DefaultSensorSeriesTTL,
	}
}

// Policy decides staleness by comparing the age of a stored marker to a TTL.
type Policy struct {
	ttl map[Kind]time.Duration
	now func() time.Time
}

// NewPolicy builds the TTL table. Zero durations fall back to the defaults.
func NewPolicy(ttls TTLs, now func() time.Time) *Policy {
	def := DefaultTTLs()
	if ttls.StationMeta <= 0 {
		ttls.StationMeta = def.StationMeta
	}
	if ttls.Sensors <= 0 {
		ttls.Sensors = def.Sensors
	}
	if ttls.SensorSeries <= 0 {
		ttls.SensorSeries = def.SensorSeries
	}
	if now == nil {
		now = time.Now
	}
	return &Policy{
		ttl: map[Kind]time.Duration{
			KindStationList:  StationListTTL,
			KindAQIndex:      AQIndexTTL,
			KindStationMeta:  ttls.StationMeta,
			KindSensors:      ttls.Sensors,
			KindSensorSeries: ttls.SensorSeries,
		},
		now: now,
	}
}

// TTL returns the time-to-live of kind.
func (p *Policy) TTL(kind Kind) time.Duration {
	return p.ttl[kind]
}

// Now returns the policy clock's current time.
func (p *Policy) Now() time.Time {
	return p.now()
}

// IsStale reports whether now - marker >= ttl(kind).
func (p *Policy) IsStale(ctx context.Context, store Store, kind Kind, scope int64) (bool, error) {
	ttl, ok := p.ttl[kind]
	if !ok {
		return false, fmt.Errorf("no ttl for kind %q", kind)
	}
	last, err := store.Freshness(ctx, kind, scope)
	if err != nil {
		return false, fmt.Errorf("read %s marker: %w", kind, err)
	}
	return p.now().Sub(last) >= ttl, nil
}
