package services

import (
	"context"
	"fmt"

	"churnguard/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TriggerService manages trigger, condition and template records. The
// dashboard is the main writer; the pipeline only reads.
type TriggerService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTriggerService(db *gorm.DB, logger *logrus.Logger) *TriggerService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TriggerService{db: db, logger: logger}
}

// TriggerConditionRequest is one condition entry in a create/update request.
type TriggerConditionRequest struct {
	ConditionType   string  `json:"condition_type" binding:"required"`
	Operator        string  `json:"operator" binding:"required"`
	ThresholdValue  float64 `json:"threshold_value"`
	ThresholdUnit   string  `json:"threshold_unit"`
	LogicalOperator string  `json:"logical_operator"`
	OrderIndex      int     `json:"order_index"`
}

// TriggerRequest creates or replaces a trigger definition.
type TriggerRequest struct {
	Name           string                    `json:"name" binding:"required"`
	Description    string                    `json:"description"`
	FrequencyType  string                    `json:"frequency_type" binding:"required"`
	FrequencyValue string                    `json:"frequency_value"`
	TemplateID     uint                      `json:"template_id" binding:"required"`
	IsActive       *bool                     `json:"is_active"`
	Conditions     []TriggerConditionRequest `json:"conditions"`
}

func (s *TriggerService) validate(ctx context.Context, userID uint, req *TriggerRequest) error {
	if err := ValidateFrequency(req.FrequencyType, req.FrequencyValue); err != nil {
		return err
	}
	for _, c := range req.Conditions {
		if ParseConditionType(c.ConditionType) == ConditionUnknown {
			return fmt.Errorf("unknown condition type: %s", c.ConditionType)
		}
		if ParseCompareOp(c.Operator) == OpUnknown {
			return fmt.Errorf("unknown operator: %s", c.Operator)
		}
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.EmailTemplate{}).
		Where("id = ? AND user_id = ?", req.TemplateID, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("template not found")
	}
	return nil
}

// CreateTrigger validates and stores a trigger with its conditions.
func (s *TriggerService) CreateTrigger(ctx context.Context, userID uint, req *TriggerRequest) (*models.Trigger, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := s.validate(ctx, userID, req); err != nil {
		return nil, err
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	if len(req.Conditions) == 0 {
		s.logger.Warnf("trigger %q created with zero conditions; it will never fire", req.Name)
	}

	trigger := &models.Trigger{
		UserID:         userID,
		Name:           req.Name,
		Description:    req.Description,
		FrequencyType:  req.FrequencyType,
		FrequencyValue: req.FrequencyValue,
		IsActive:       active,
		TemplateID:     req.TemplateID,
		Conditions:     conditionModels(req.Conditions),
	}

	if err := s.db.WithContext(ctx).Create(trigger).Error; err != nil {
		return nil, err
	}
	return trigger, nil
}

// UpdateTrigger replaces a trigger definition including its condition list.
func (s *TriggerService) UpdateTrigger(ctx context.Context, userID, id uint, req *TriggerRequest) (*models.Trigger, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := s.validate(ctx, userID, req); err != nil {
		return nil, err
	}

	var trigger models.Trigger
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&trigger).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("trigger not found")
		}
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("trigger_id = ?", trigger.ID).Delete(&models.TriggerCondition{}).Error; err != nil {
			return err
		}
		trigger.Name = req.Name
		trigger.Description = req.Description
		trigger.FrequencyType = req.FrequencyType
		trigger.FrequencyValue = req.FrequencyValue
		trigger.TemplateID = req.TemplateID
		if req.IsActive != nil {
			trigger.IsActive = *req.IsActive
		}
		trigger.Conditions = conditionModels(req.Conditions)
		for i := range trigger.Conditions {
			trigger.Conditions[i].TriggerID = trigger.ID
		}
		return tx.Save(&trigger).Error
	})
	if err != nil {
		return nil, err
	}
	return &trigger, nil
}

func conditionModels(reqs []TriggerConditionRequest) []models.TriggerCondition {
	conds := make([]models.TriggerCondition, 0, len(reqs))
	for i, c := range reqs {
		logical := c.LogicalOperator
		if logical == "" {
			logical = "AND"
		}
		order := c.OrderIndex
		if order == 0 && i > 0 {
			order = i
		}
		conds = append(conds, models.TriggerCondition{
			ConditionType:   c.ConditionType,
			Operator:        c.Operator,
			ThresholdValue:  c.ThresholdValue,
			ThresholdUnit:   c.ThresholdUnit,
			LogicalOperator: logical,
			OrderIndex:      order,
		})
	}
	return conds
}

// ListTriggers returns a user's triggers with conditions and template.
func (s *TriggerService) ListTriggers(ctx context.Context, userID uint) ([]models.Trigger, error) {
	var triggers []models.Trigger
	if err := s.db.WithContext(ctx).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC, id ASC") }).
		Preload("Template").
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&triggers).Error; err != nil {
		return nil, err
	}
	return triggers, nil
}

// GetTrigger returns one trigger with conditions and template.
func (s *TriggerService) GetTrigger(ctx context.Context, userID, id uint) (*models.Trigger, error) {
	var trigger models.Trigger
	if err := s.db.WithContext(ctx).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC, id ASC") }).
		Preload("Template").
		Where("id = ? AND user_id = ?", id, userID).
		First(&trigger).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("trigger not found")
		}
		return nil, err
	}
	return &trigger, nil
}

// SetActive toggles a trigger without touching its definition.
func (s *TriggerService) SetActive(ctx context.Context, userID, id uint, active bool) error {
	result := s.db.WithContext(ctx).Model(&models.Trigger{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("trigger not found")
	}
	return nil
}

// DeleteTrigger removes a trigger and its conditions. Execution log rows
// are kept; the log is append-only audit history.
func (s *TriggerService) DeleteTrigger(ctx context.Context, userID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Trigger{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("trigger not found")
		}
		return tx.Where("trigger_id = ?", id).Delete(&models.TriggerCondition{}).Error
	})
}

// ListExecutions returns the execution log for one trigger, newest first.
func (s *TriggerService) ListExecutions(ctx context.Context, userID, triggerID uint, limit int) ([]models.TriggerExecution, error) {
	if _, err := s.GetTrigger(ctx, userID, triggerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	} else if limit > 500 {
		limit = 500
	}
	var execs []models.TriggerExecution
	if err := s.db.WithContext(ctx).
		Where("trigger_id = ?", triggerID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}

// CreateTemplate stores an email template.
func (s *TriggerService) CreateTemplate(ctx context.Context, userID uint, tpl *models.EmailTemplate) (*models.EmailTemplate, error) {
	if tpl == nil || tpl.Subject == "" {
		return nil, fmt.Errorf("subject required")
	}
	tpl.ID = 0
	tpl.UserID = userID
	if err := s.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return nil, err
	}
	return tpl, nil
}

// ListTemplates returns a user's templates.
func (s *TriggerService) ListTemplates(ctx context.Context, userID uint) ([]models.EmailTemplate, error) {
	var templates []models.EmailTemplate
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// DeleteTemplate removes a template unless a trigger still references it.
func (s *TriggerService) DeleteTemplate(ctx context.Context, userID, id uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Trigger{}).
		Where("template_id = ? AND user_id = ?", id, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("template in use by %d trigger(s)", count)
	}
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.EmailTemplate{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("template not found")
	}
	return nil
}
