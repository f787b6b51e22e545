package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// SupervisionLog is the audit trail for privileged operations. The refresh
// pipeline writes one entry when a run starts; the CRUD surface writes its own.
type SupervisionLog struct {
	ID          int       `gorm:"primary_key" json:"id"`
	EntityType  string    `gorm:"index;size:50;not null" json:"entity_type"`
	EntityId    int       `gorm:"index;not null" json:"entity_id"`
	Action      string    `gorm:"size:50;not null" json:"action"`
	UserId      int       `gorm:"index;not null" json:"user_id"`
	UserName    string    `gorm:"size:100" json:"user_name"`
	Description string    `gorm:"type:text" json:"description"`
	DetailsJSON []byte    `gorm:"type:json" json:"details"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSupervisionLog(db *gorm.DB, entityType string, entityId int, action string, userId int, userName string, description string, details any) error {
	var detailsJSON []byte
	if details != nil {
		detailsJSON, _ = json.Marshal(details)
	}
	entry := SupervisionLog{
		EntityType:  entityType,
		EntityId:    entityId,
		Action:      action,
		UserId:      userId,
		UserName:    userName,
		Description: description,
		DetailsJSON: detailsJSON,
	}
	return db.Create(&entry).Error
}
