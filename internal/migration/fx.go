package migration

import (
	"strings"

	accountdomain "github.com/smallbiznis/voxbill/internal/account/domain"
	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
	rateplandomain "github.com/smallbiznis/voxbill/internal/rateplan/domain"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// The versioned SQL migrations target postgres. Other dialects are
		// for local development and tests, where the model-derived schema
		// is enough.
		if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
			return conn.AutoMigrate(
				&accountdomain.Account{},
				&rateplandomain.RatePlan{},
				&subscriptiondomain.Subscription{},
				&cdrdomain.CDR{},
				&usagedomain.UsageRecord{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
