package services

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryLocationStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLocationStore()
	patientID := primitive.NewObjectID()

	sample, err := store.Get(ctx, patientID)
	if err != nil || sample != nil {
		t.Fatalf("expected empty store, got %+v, %v", sample, err)
	}

	if _, err := store.Update(ctx, patientID, 10.0, 20.0); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := store.Update(ctx, patientID, 11.5, 21.5); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	sample, err = store.Get(ctx, patientID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if sample == nil || sample.Latitude != 11.5 || sample.Longitude != 21.5 {
		t.Fatalf("expected latest sample to win, got %+v", sample)
	}
	if sample.CapturedAt.IsZero() {
		t.Errorf("expected captured_at to be stamped")
	}
	if sample.PatientID != patientID {
		t.Errorf("patient id = %s, want %s", sample.PatientID.Hex(), patientID.Hex())
	}
}
