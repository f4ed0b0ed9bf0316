package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medisos/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const migrationsCollection = "migrations"

type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, db *mongo.Database) error
	Down        func(ctx context.Context, db *mongo.Database) error
}

type Migrator struct {
	db         *mongo.Database
	migrations []Migration
	logger     *logger.Logger
}

func NewMigrator(db *mongo.Database, log *logger.Logger) *Migrator {
	return &Migrator{
		db:         db,
		migrations: getMigrations(),
		logger:     log,
	}
}

func (m *Migrator) Up(ctx context.Context) error {
	currentVersion, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}

		m.logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		if err := migration.Up(ctx, m.db); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		if err := m.updateVersion(ctx, migration.Version); err != nil {
			return fmt.Errorf("failed to update migration version: %w", err)
		}
	}

	return nil
}

func (m *Migrator) Down(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version > currentVersion || migration.Version <= targetVersion {
			continue
		}

		m.logger.WithField("version", migration.Version).Infof("Reverting migration: %s", migration.Description)

		if err := migration.Down(ctx, m.db); err != nil {
			return fmt.Errorf("migration %d rollback failed: %w", migration.Version, err)
		}

		previousVersion := targetVersion
		if i > 0 {
			previousVersion = m.migrations[i-1].Version
		}
		if err := m.updateVersion(ctx, previousVersion); err != nil {
			return fmt.Errorf("failed to update migration version: %w", err)
		}
	}

	return nil
}

// CurrentVersion returns the last applied migration, or 0 on a fresh database.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var result struct {
		Version int `bson:"version"`
	}

	err := m.db.Collection(migrationsCollection).FindOne(ctx, bson.D{}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}

	return result.Version, nil
}

func (m *Migrator) updateVersion(ctx context.Context, version int) error {
	_, err := m.db.Collection(migrationsCollection).ReplaceOne(
		ctx,
		bson.D{},
		bson.D{{Key: "version", Value: version}, {Key: "updated_at", Value: time.Now()}},
		options.Replace().SetUpsert(true),
	)
	return err
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create sos_requests indexes",
			Up:          createSOSRequestIndexes,
			Down:        dropIndexes("sos_requests"),
		},
		{
			Version:     2,
			Description: "Create sos_audit_logs indexes",
			Up:          createAuditLogIndexes,
			Down:        dropIndexes("sos_audit_logs"),
		},
		{
			Version:     3,
			Description: "Create hospitals and patients indexes",
			Up:          createDirectoryIndexes,
			Down: func(ctx context.Context, db *mongo.Database) error {
				if err := dropIndexes("hospitals")(ctx, db); err != nil {
					return err
				}
				return dropIndexes("patients")(ctx, db)
			},
		},
		{
			Version:     4,
			Description: "Create sos_audit_logs browsing indexes",
			Up:          createAuditBrowsingIndexes,
			Down:        dropAuditBrowsingIndexes,
		},
	}
}

func createSOSRequestIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "assigned_facility_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
	}

	_, err := db.Collection("sos_requests").Indexes().CreateMany(ctx, indexes)
	return err
}

func createAuditLogIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "event", Value: 1}}},
	}

	_, err := db.Collection("sos_audit_logs").Indexes().CreateMany(ctx, indexes)
	return err
}

var auditBrowsingIndexes = []string{"created_at_-1", "actor_id_1_created_at_-1"}

func createAuditBrowsingIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}

	_, err := db.Collection("sos_audit_logs").Indexes().CreateMany(ctx, indexes)
	return err
}

func dropAuditBrowsingIndexes(ctx context.Context, db *mongo.Database) error {
	for _, name := range auditBrowsingIndexes {
		if _, err := db.Collection("sos_audit_logs").Indexes().DropOne(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func createDirectoryIndexes(ctx context.Context, db *mongo.Database) error {
	hospitals := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "approved", Value: 1}}},
	}
	if _, err := db.Collection("hospitals").Indexes().CreateMany(ctx, hospitals); err != nil {
		return err
	}

	patients := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := db.Collection("patients").Indexes().CreateMany(ctx, patients)
	return err
}

func dropIndexes(collection string) func(ctx context.Context, db *mongo.Database) error {
	return func(ctx context.Context, db *mongo.Database) error {
		_, err := db.Collection(collection).Indexes().DropAll(ctx)
		return err
	}
}
