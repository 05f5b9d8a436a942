package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upPublications, downPublications)
}

// Publication is the schema snapshot of the ledger table at this version.
type Publication struct {
	ID                uuid.UUID         `gorm:"type:uuid;primaryKey"`
	EventID           string            `gorm:"type:text;uniqueIndex;not null"`
	RunID             uuid.UUID         `gorm:"type:uuid;not null;index"`
	Login             string            `gorm:"type:text;not null;index"`
	Owner             string            `gorm:"type:text;not null"`
	Repo              string            `gorm:"type:text;not null"`
	Branch            string            `gorm:"type:text;not null"`
	BaseBranch        string            `gorm:"type:text;not null"`
	FilePath          string            `gorm:"type:text;not null"`
	PullRequestURL    string            `gorm:"type:text;not null"`
	PullRequestNumber int               `gorm:"type:integer"`
	Summary           datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt         time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func openGorm(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upPublications(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).AutoMigrate(&Publication{})
}

func downPublications(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Migrator().DropTable(&Publication{})
}
