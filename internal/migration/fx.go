package migration

import (
	"github.com/smallbiznis/coursepay/internal/config"
	coursedomain "github.com/smallbiznis/coursepay/internal/course/domain"
	enrollmentdomain "github.com/smallbiznis/coursepay/internal/enrollment/domain"
	notificationdomain "github.com/smallbiznis/coursepay/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/coursepay/internal/payment/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Versioned migrations target postgres. Other dialects (mysql,
		// sqlite for local runs) derive their schema from the models.
		if err := conn.AutoMigrate(
			&coursedomain.Course{},
			&enrollmentdomain.Enrollment{},
			&paymentdomain.Payment{},
			&paymentdomain.WebhookEvent{},
			&notificationdomain.Notification{},
		); err != nil {
			return err
		}

		// Users are provisioned by the identity system; this service
		// only reads contact details and roles from them.
		return conn.Exec(
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT PRIMARY KEY,
				org_id BIGINT NOT NULL,
				name TEXT NOT NULL,
				email TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'learner'
			)`,
		).Error
	}),
)
