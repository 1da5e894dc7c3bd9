package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RuleRepository struct {
	db *storage.Postgres
}

func NewRuleRepository(db *storage.Postgres) *RuleRepository {
	return &RuleRepository{db: db}
}

// Inserts the rule or overwrites every column of the existing row
func (r *RuleRepository) Upsert(ctx context.Context, rule *models.RateLimitRule) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rule).Error
}

// Upserts every rule in one transaction; either all are saved or none
func (r *RuleRepository) UpsertAll(ctx context.Context, rules []models.RateLimitRule) error {
	if len(rules) == 0 {
		return nil
	}
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rules).Error
	})
}

func (r *RuleRepository) FindByID(ctx context.Context, id string) (*models.RateLimitRule, error) {
	var rule models.RateLimitRule
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&rule).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	return &rule, err
}

// Returns every rule ordered by priority, then creation time
func (r *RuleRepository) List(ctx context.Context) ([]models.RateLimitRule, error) {
	var rules []models.RateLimitRule
	err := r.db.DB.WithContext(ctx).
		Order("priority ASC, created_at ASC").
		Find(&rules).Error

	return rules, err
}

// Reports whether a row was removed
func (r *RuleRepository) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.RateLimitRule{})

	return result.RowsAffected > 0, result.Error
}
