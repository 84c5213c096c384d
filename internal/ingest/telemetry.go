package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-session/internal/models"
)

// Telemetry publishes driver-side samples and lifecycle events for offline
// analysis. Publishing never blocks the caller for long.
type Telemetry interface {
	PublishLocation(ctx context.Context, driverID, rideID int64, c models.Coord) error
	PublishEvent(ctx context.Context, driverID int64, kind string, payload any) error
	Close() error
}

// Event is the record written to the topic.
type Event struct {
	Kind     string          `json:"kind"`
	DriverID int64           `json:"driver_id"`
	RideID   int64           `json:"ride_id,omitempty"`
	Lat      float64         `json:"lat,omitempty"`
	Lon      float64         `json:"lon,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	At       time.Time       `json:"at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 200 * time.Millisecond,
		Async:        true,
	}
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, driverID, rideID int64, c models.Coord) error {
	return k.write(ctx, driverID, Event{Kind: "location", DriverID: driverID, RideID: rideID, Lat: c.Lat, Lon: c.Lon, At: time.Now().UTC()})
}

func (k *KafkaProducer) PublishEvent(ctx context.Context, driverID int64, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return k.write(ctx, driverID, Event{Kind: kind, DriverID: driverID, Payload: raw, At: time.Now().UTC()})
}

func (k *KafkaProducer) write(ctx context.Context, driverID int64, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(strconv.FormatInt(driverID, 10)), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Nop drops everything; used when no brokers are configured.
type Nop struct{}

func (Nop) PublishLocation(context.Context, int64, int64, models.Coord) error { return nil }
func (Nop) PublishEvent(context.Context, int64, string, any) error            { return nil }
func (Nop) Close() error                                                      { return nil }
