package models

import "gorm.io/gorm"

// Migrate 建表；extra 为其他包的模型（如审计日志）
func Migrate(db *gorm.DB, extra ...interface{}) error {
	all := []interface{}{
		&User{},
		&EmergencyAlert{},
		&DoctorResponse{},
		&AlertRead{},
		&Hospital{},
	}
	return db.AutoMigrate(append(all, extra...)...)
}
