package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pinmesh/peerloc/internal/model"
)

// Manager owns the journal database connection. Postgres is preferred;
// when it is unreachable the journal falls back to a local SQLite file so a
// session is never lost to connectivity.
type Manager struct {
	DB              *gorm.DB
	SqlDB           *sql.DB
	IsValid         bool
	ShouldSaveLocal bool
	SqliteFilePath  string
	DeviceID        string
	Logger          zerolog.Logger
}

// NewManager creates a new journal manager.
func NewManager(log zerolog.Logger, deviceID string) *Manager {
	return &Manager{
		IsValid:         false,
		ShouldSaveLocal: false,
		DeviceID:        deviceID,
		Logger:          log,
	}
}

// Connect establishes a database connection, falling back to SQLite if Postgres fails.
func (m *Manager) Connect() error {
	var err error

	m.DB, err = m.getPostgresDB()
	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
		m.ShouldSaveLocal = true
		m.DB, err = m.getSqliteDB("")
		if err != nil || m.DB == nil {
			m.IsValid = false
			return fmt.Errorf("failed to get local SQLite DB: %s", err)
		}
		m.IsValid = true
	}

	// test connection
	m.SqlDB, err = m.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %s", err)
	}

	err = m.SqlDB.Ping()
	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to validate connection, trying SQLite")
		m.ShouldSaveLocal = true
		m.DB, err = m.getSqliteDB("")
		if err != nil || m.DB == nil {
			m.IsValid = false
			return fmt.Errorf("failed to get local SQLite DB: %s", err)
		}
		m.IsValid = true
	} else {
		m.Logger.Info().Msg("Connected to journal database")
		m.IsValid = true
	}

	if !m.ShouldSaveLocal {
		m.SqlDB.SetMaxOpenConns(10)
	}

	return nil
}

func (m *Manager) getPostgresDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
	)

	m.Logger.Debug().Msgf("Connecting to Postgres DB at '%s'", dsn)

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// getSqliteDB returns a connection to a SQLite database.
// If path is empty, uses an in-memory database.
func (m *Manager) getSqliteDB(path string) (*gorm.DB, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" {
		dsn = path
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		m.IsValid = false
		return nil, err
	}

	if path != "" {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite journal")
	} else {
		m.Logger.Info().Msg("Using in-memory SQLite journal with disk dump on shutdown")
	}

	// set PRAGMAS
	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %s", err)
		}
	}

	return db, nil
}

// Setup migrates the journal schema.
func (m *Manager) Setup() error {
	m.Logger.Info().Msg("Migrating journal schema")
	if err := m.DB.AutoMigrate(DatabaseModels...); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to migrate schema: %s", err)
	}
	m.Logger.Info().Msg("Journal setup complete")
	return nil
}

// RecordPosition journals one published device position.
func (m *Manager) RecordPosition(r model.PositionReading, motion model.MotionClass) error {
	if !m.IsValid {
		return nil
	}

	rec := PositionRecord{
		DeviceID:   m.DeviceID,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		AccuracyM:  r.AccuracyM,
		Motion:     motion.String(),
		CapturedAt: r.CapturedAt(),
	}
	if r.HasAltitude {
		rec.AltitudeM = &r.AltitudeM
	}
	if r.HasSpeed {
		rec.SpeedMS = &r.SpeedMS
	}

	if err := m.DB.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to journal position: %w", err)
	}
	return nil
}

// RecordPolicyChange journals one committed sampling policy.
func (m *Manager) RecordPolicyChange(p model.SamplingPolicy, motion model.MotionClass, batteryPct int, charging bool) error {
	if !m.IsValid {
		return nil
	}

	rec := PolicyChange{
		Priority:   p.Priority.String(),
		IntervalMs: p.IntervalMs,
		Motion:     motion.String(),
		BatteryPct: batteryPct,
		Charging:   charging,
	}
	if err := m.DB.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to journal policy change: %w", err)
	}
	return nil
}

// RecordSharingTransition journals one sharing status change.
func (m *Manager) RecordSharingTransition(status model.SharingStatus, detail string) error {
	if !m.IsValid {
		return nil
	}

	rec := SharingTransition{Status: status.String(), Detail: detail}
	if err := m.DB.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to journal sharing transition: %w", err)
	}
	return nil
}

// RecordMarkerEvent journals one marker layer change.
func (m *Manager) RecordMarkerEvent(kind string, state model.MarkerState) error {
	if !m.IsValid {
		return nil
	}

	attrs, err := json.Marshal(map[string]any{
		"accuracyM":     state.Location.AccuracyM,
		"visible":       state.Visible,
		"lastUpdatedMs": state.LastUpdatedMs,
	})
	if err != nil {
		return fmt.Errorf("failed to encode marker attrs: %w", err)
	}

	rec := MarkerEvent{
		PeerID:      state.PeerID,
		DisplayName: state.DisplayName,
		Kind:        kind,
		Latitude:    state.Location.Latitude,
		Longitude:   state.Location.Longitude,
		Attrs:       datatypes.JSON(attrs),
	}
	if err := m.DB.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to journal marker event: %w", err)
	}
	return nil
}

// DumpMemoryToDisk vacuums the in-memory database to a file.
func (m *Manager) DumpMemoryToDisk() error {
	if m.SqliteFilePath == "" {
		return fmt.Errorf("sqlite file path not set")
	}

	// remove existing file if it exists
	if exists, err := os.Stat(m.SqliteFilePath); err == nil && exists != nil {
		if err := os.Remove(m.SqliteFilePath); err != nil {
			return fmt.Errorf("error removing existing DB file: %s", err)
		}
	}

	start := time.Now()
	err := m.DB.Exec("VACUUM INTO 'file:" + m.SqliteFilePath + "';").Error
	if err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %s", err)
	}

	m.Logger.Debug().Dur("duration", time.Since(start)).Msg("Dumped journal DB to disk")
	return nil
}

// Close flushes the in-memory journal to disk when configured and closes
// the connection.
func (m *Manager) Close() error {
	if !m.IsValid {
		return nil
	}
	if m.ShouldSaveLocal && m.SqliteFilePath != "" {
		if err := m.DumpMemoryToDisk(); err != nil {
			m.Logger.Error().Err(err).Msg("Failed to dump journal to disk")
		}
	}
	if m.SqlDB != nil {
		return m.SqlDB.Close()
	}
	return nil
}
