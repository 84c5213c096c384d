package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Notification channel message types.
const (
	MsgRideOffer         = "ride_offer"
	MsgRideOfferReceived = "ride_offer_received"
	MsgOfferExpired      = "offer_expired"
	MsgRideCancelled     = "ride_cancelled"
	MsgHeartbeat         = "heartbeat"
	MsgHeartbeatAck      = "heartbeat_ack"
)

var ErrMissingRideID = errors.New("message has no ride id")

// MaxOfferSeconds caps the countdown of any single offer.
const MaxOfferSeconds = 600

// Heartbeat is the outbound keepalive on the notification channel.
type Heartbeat struct {
	Type string `json:"type"`
}

func NewHeartbeat() Heartbeat { return Heartbeat{Type: MsgHeartbeat} }

type envelope struct {
	Type string `json:"type"`
}

// MessageType returns the "type" discriminator of a raw notification.
func MessageType(raw []byte) (string, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	return e.Type, nil
}

// WireRide is the server's ride representation.
type WireRide struct {
	ID            int64    `json:"id"`
	RiderID       int64    `json:"rider_id"`
	StartLocation string   `json:"start_location"`
	EndLocation   string   `json:"end_location"`
	StartLat      *float64 `json:"start_lat"`
	StartLng      *float64 `json:"start_lng"`
	EndLat        *float64 `json:"end_lat"`
	EndLng        *float64 `json:"end_lng"`
	Status        string   `json:"status"`
	Fare          *float64 `json:"fare"`
	ExpiresAt     *string  `json:"expires_at"`
	Rider         *struct {
		Username string `json:"username"`
	} `json:"rider"`
}

func (w WireRide) ToRide() Ride {
	r := Ride{
		ID:           w.ID,
		Status:       RideStatus(w.Status),
		Pickup:       w.StartLocation,
		Dropoff:      w.EndLocation,
		PickupCoord:  coordOf(w.StartLat, w.StartLng),
		DropoffCoord: coordOf(w.EndLat, w.EndLng),
		RiderID:      w.RiderID,
		Fare:         w.Fare,
	}
	if w.Rider != nil {
		r.RiderName = w.Rider.Username
	}
	return r
}

type rideOfferMessage struct {
	RideID          int64     `json:"ride_id"`
	PickupLocation  string    `json:"pickup_location"`
	DropoffLocation string    `json:"dropoff_location"`
	PickupLat       *float64  `json:"pickup_lat"`
	PickupLng       *float64  `json:"pickup_lng"`
	DropoffLat      *float64  `json:"dropoff_lat"`
	DropoffLng      *float64  `json:"dropoff_lng"`
	Fare            *float64  `json:"fare"`
	EstimatedFare   *float64  `json:"estimated_fare"`
	ExpiresIn       *float64  `json:"expires_in"`
	Ride            *WireRide `json:"ride"`
}

// DecodeRideOffer accepts both the flat ride_offer message and the
// ride_offer_received variant that nests the ride and carries an absolute
// expires_at. Offers without a usable expiry get fallbackSeconds.
func DecodeRideOffer(raw []byte, now time.Time, fallbackSeconds int) (RideOffer, error) {
	var m rideOfferMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return RideOffer{}, fmt.Errorf("decode ride offer: %w", err)
	}
	o := RideOffer{
		RideID:          m.RideID,
		PickupLocation:  m.PickupLocation,
		DropoffLocation: m.DropoffLocation,
		Pickup:          coordOf(m.PickupLat, m.PickupLng),
		Dropoff:         coordOf(m.DropoffLat, m.DropoffLng),
		EstimatedFare:   m.EstimatedFare,
	}
	if o.EstimatedFare == nil {
		o.EstimatedFare = m.Fare
	}
	if m.ExpiresIn != nil && *m.ExpiresIn > 0 {
		o.ExpiresInSeconds = int(math.Ceil(math.Min(*m.ExpiresIn, MaxOfferSeconds)))
	}
	if w := m.Ride; w != nil {
		if o.RideID == 0 {
			o.RideID = w.ID
		}
		if o.PickupLocation == "" {
			o.PickupLocation = w.StartLocation
		}
		if o.DropoffLocation == "" {
			o.DropoffLocation = w.EndLocation
		}
		if o.Pickup == nil {
			o.Pickup = coordOf(w.StartLat, w.StartLng)
		}
		if o.Dropoff == nil {
			o.Dropoff = coordOf(w.EndLat, w.EndLng)
		}
		if o.EstimatedFare == nil {
			o.EstimatedFare = w.Fare
		}
		if o.ExpiresInSeconds == 0 && w.ExpiresAt != nil {
			o.ExpiresInSeconds = secondsUntil(*w.ExpiresAt, now)
		}
	}
	if o.RideID == 0 {
		return RideOffer{}, ErrMissingRideID
	}
	if o.ExpiresInSeconds <= 0 {
		o.ExpiresInSeconds = fallbackSeconds
	}
	return o, nil
}

type rideRefMessage struct {
	RideID int64 `json:"ride_id"`
}

// DecodeRideRef extracts ride_id from offer_expired and ride_cancelled.
func DecodeRideRef(raw []byte) (int64, error) {
	var m rideRefMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, fmt.Errorf("decode ride ref: %w", err)
	}
	if m.RideID == 0 {
		return 0, ErrMissingRideID
	}
	return m.RideID, nil
}

// secondsUntil parses the server's expires_at. The server emits naive UTC
// ISO timestamps, so a missing zone is read as UTC. Returns 0 when the
// value is unusable; an already passed expiry still yields 1 second.
func secondsUntil(expiresAt string, now time.Time) int {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		t, err := time.Parse(layout, expiresAt)
		if err != nil {
			continue
		}
		secs := math.Ceil(t.Sub(now).Seconds())
		return int(math.Max(1, math.Min(secs, MaxOfferSeconds)))
	}
	return 0
}

func coordOf(lat, lng *float64) *Coord {
	if lat == nil || lng == nil {
		return nil
	}
	return &Coord{Lat: *lat, Lon: *lng}
}
