package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/emrekoca/audit-relay/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createAuditRecordsTable(),
	})

	return m.Migrate()
}

func createAuditRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_audit_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AuditRecordModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_audit_records_exchange_id ON audit_records (exchange_id)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_records_dispatch_id ON audit_records (dispatch_id) WHERE dispatch_id <> ''`,
				`CREATE INDEX IF NOT EXISTS idx_audit_records_kind_timestamp ON audit_records (kind, timestamp)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_records_correlation_id ON audit_records (correlation_id) WHERE correlation_id <> ''`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AuditRecordModel{})
		},
	}
}
