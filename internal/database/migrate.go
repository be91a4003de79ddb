package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/oracy-scoring-api/internal/models"
)

// Migrate creates or updates the tables read and written by the scoring pipeline.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Assessment{},
		&models.Question{},
		&models.Rubric{},
		&models.OracySubmission{},
		&models.OracyResponse{},
		&models.EvidenceImage{},
		&models.QuestionScore{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
