package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Facility is a hospital as listed in the directory. IdentityID is the
// credential the hospital connects with; reachability is derived from it.
type Facility struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	IdentityID primitive.ObjectID `json:"identity_id" bson:"identity_id"`
	Name       string             `json:"name" bson:"name"`
	Address    string             `json:"address" bson:"address"`
	Phone      string             `json:"phone" bson:"phone"`
	Location   *GeoPoint          `json:"location" bson:"location"`
	Approved   bool               `json:"approved" bson:"approved"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
}

func (f *Facility) HasCoordinates() bool {
	return f.Location != nil && len(f.Location.Coordinates) == 2
}

func (f *Facility) Latitude() float64 {
	if f.Location == nil {
		return 0
	}
	return f.Location.Latitude()
}

func (f *Facility) Longitude() float64 {
	if f.Location == nil {
		return 0
	}
	return f.Location.Longitude()
}

// FacilityMatch is a resolver result.
type FacilityMatch struct {
	Facility   *Facility `json:"facility"`
	DistanceKM float64   `json:"distance_km"`
}
