package storage

import (
	"fmt"
	"time"

	"github.com/npai/quota-engine/internal/models"
	"golang.org/x/net/context"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Postgres holds the gorm handle for the durable side of the engine:
// keys, tiers, quota ledgers, violations and incidents.
type Postgres struct {
	DB *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	pool.SetMaxOpenConns(50)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(time.Hour)

	return &Postgres{DB: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	pool, err := p.DB.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (p *Postgres) AutoMigrate() error {
	return p.DB.AutoMigrate(
		&models.APIKey{},
		&models.Tier{},
		&models.QuotaLedger{},
		&models.ViolationRecord{},
		&models.Incident{},
		&models.User{},
	)
}

func (p *Postgres) Close() error {
	pool, err := p.DB.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}
