package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DriverIdentity is fixed for the lifetime of a session.
type DriverIdentity struct {
	DriverID int64  `json:"driver_id"`
	Token    string `json:"-"`
}

// RideOffer is a time-boxed proposal of a ride to this driver.
type RideOffer struct {
	RideID           int64    `json:"ride_id"`
	PickupLocation   string   `json:"pickup_location,omitempty"`
	DropoffLocation  string   `json:"dropoff_location,omitempty"`
	Pickup           *Coord   `json:"pickup,omitempty"`
	Dropoff          *Coord   `json:"dropoff,omitempty"`
	EstimatedFare    *float64 `json:"estimated_fare,omitempty"`
	ExpiresInSeconds int      `json:"expires_in"`
}

type RideStatus string

const (
	RideAccepted   RideStatus = "accepted"
	RideInProgress RideStatus = "in_progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further driver action is possible.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

type Ride struct {
	ID           int64      `json:"id"`
	Status       RideStatus `json:"status"`
	Pickup       string     `json:"pickup"`
	Dropoff      string     `json:"dropoff"`
	PickupCoord  *Coord     `json:"pickup_coord,omitempty"`
	DropoffCoord *Coord     `json:"dropoff_coord,omitempty"`
	RiderID      int64      `json:"rider_id"`
	RiderName    string     `json:"rider_name,omitempty"`
	Fare         *float64   `json:"fare,omitempty"`
}

// Tick is one second of an offer countdown.
type Tick struct {
	Remaining int  `json:"remaining"`
	Urgent    bool `json:"urgent"`
	// BecameUrgent is set only on the tick that crosses the urgency threshold.
	BecameUrgent bool `json:"became_urgent"`
}

// ClearReason says why a pending offer went away.
type ClearReason string

const (
	ClearAccepted      ClearReason = "accepted"
	ClearDeclined      ClearReason = "declined"
	ClearRejected      ClearReason = "rejected"
	ClearExpired       ClearReason = "expired"
	ClearServerExpired ClearReason = "server_expired"
	ClearSuperseded    ClearReason = "superseded"
	ClearAbandoned     ClearReason = "abandoned"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// JournalEntry records one ride lifecycle transition on this device.
type JournalEntry struct {
	ID         string     `json:"id"`
	DriverID   int64      `json:"driver_id"`
	RideID     int64      `json:"ride_id"`
	FromStatus string     `json:"from_status"`
	ToStatus   RideStatus `json:"to_status"`
	Fare       *float64   `json:"fare,omitempty"`
	At         time.Time  `json:"at"`
}

// LocationUpdate is the location channel's outbound payload.
type LocationUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
