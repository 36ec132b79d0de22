// Package sessions is the frame-capture store: every frame exchanged with
// a gamemode client can be recorded under a session and inspected later
// with the gmbridge CLI. Recording is a development facility and is off
// unless the config enables it.
package sessions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gmbridge/gmbridge/internal/core"
)

const defaultSqliteFilename = "gmbridge.db"

// Directions a frame can travel, from the host's point of view.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Session is one recorded exchange between the host and a gamemode client.
type Session struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Transport string
	StartedAt time.Time
}

// Frame is one captured protocol frame within a session, stored exactly as
// it crossed the wire.
type Frame struct {
	ID        uint64 `gorm:"primaryKey"`
	SessionID uint64 `gorm:"index;not null"`
	Direction string
	Command   uint8
	Size      int
	Payload   []byte
	Timestamp time.Time
}

// Open connects to the session store named by the config and migrates its
// schema. debug enables SQL query logging.
func Open(config *core.Config, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(config.Database.Engine) {
	case "sqlite":
		filename := config.Database.Filename
		if filename == "" {
			filename = defaultSqliteFilename
		}
		dialector = sqlite.Open(config.QualifiedPath(filename))
	case "postgres":
		dialector = postgres.Open(config.DatabaseURL())
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", config.Database.Engine)
	}

	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if debug {
		log = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %s", err)
	}

	if err := db.AutoMigrate(&Session{}, &Frame{}); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %s", err)
	}

	return db, nil
}

func CreateSession(db *gorm.DB, session *Session) error {
	return db.Create(session).Error
}

func CreateFrame(db *gorm.DB, frame *Frame) error {
	return db.Create(frame).Error
}

// FindSession returns the session with the given id, or nil when no such
// session has been recorded.
func FindSession(db *gorm.DB, id uint64) (*Session, error) {
	var session Session
	err := db.First(&session, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &session, nil
}

func ListSessions(db *gorm.DB) ([]Session, error) {
	var sessions []Session
	if err := db.Order("id").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// SessionFrames returns a session's frames in the order they were recorded.
func SessionFrames(db *gorm.DB, sessionID uint64) ([]Frame, error) {
	var frames []Frame
	if err := db.Where("session_id = ?", sessionID).Order("id").Find(&frames).Error; err != nil {
		return nil, err
	}
	return frames, nil
}

func CountFrames(db *gorm.DB, sessionID uint64) (int64, error) {
	var count int64
	if err := db.Model(&Frame{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteSession removes a session and every frame recorded under it.
func DeleteSession(db *gorm.DB, id uint64) error {
	if err := db.Where("session_id = ?", id).Delete(&Frame{}).Error; err != nil {
		return err
	}
	return db.Delete(&Session{}, id).Error
}
