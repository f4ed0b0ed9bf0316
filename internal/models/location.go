package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LocationSource string

const (
	LocationSourceRequest  LocationSource = "request"
	LocationSourceStored   LocationSource = "stored"
	LocationSourceFallback LocationSource = "fallback"
)

// LocationSample is the latest known position of a patient. Only the newest
// sample per patient is kept.
type LocationSample struct {
	PatientID  primitive.ObjectID `json:"patient_id"`
	Latitude   float64            `json:"latitude"`
	Longitude  float64            `json:"longitude"`
	CapturedAt time.Time          `json:"captured_at"`
}

// GeoPoint is a GeoJSON point as stored in MongoDB (longitude first).
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

func NewGeoPoint(lat, lng float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lng, lat}}
}

func (p GeoPoint) Latitude() float64 {
	if len(p.Coordinates) >= 2 {
		return p.Coordinates[1]
	}
	return 0
}

func (p GeoPoint) Longitude() float64 {
	if len(p.Coordinates) >= 1 {
		return p.Coordinates[0]
	}
	return 0
}
