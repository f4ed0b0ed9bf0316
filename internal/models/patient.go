package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EmergencyContact struct {
	Name         string `json:"name" bson:"name"`
	Phone        string `json:"phone" bson:"phone"`
	Relationship string `json:"relationship" bson:"relationship"`
}

// PatientProfile carries the contact fields embedded in an sos_alert.
type PatientProfile struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	IdentityID       primitive.ObjectID `json:"identity_id" bson:"identity_id"`
	Name             string             `json:"name" bson:"name"`
	Phone            string             `json:"phone" bson:"phone"`
	Email            string             `json:"email" bson:"email"`
	DateOfBirth      *time.Time         `json:"date_of_birth" bson:"date_of_birth"`
	Gender           string             `json:"gender" bson:"gender"`
	BloodGroup       string             `json:"blood_group" bson:"blood_group"`
	EmergencyContact *EmergencyContact  `json:"emergency_contact" bson:"emergency_contact"`
}

// Age returns the completed years at now, or 0 when no birth date is on file.
func (p *PatientProfile) Age(now time.Time) int {
	if p == nil || p.DateOfBirth == nil {
		return 0
	}
	dob := *p.DateOfBirth
	years := now.Year() - dob.Year()
	if now.YearDay() < dob.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
