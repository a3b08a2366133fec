package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidUser indicates an empty or unknown user identifier.
var ErrInvalidUser = errors.New("users: invalid user")

// ServiceConfig describes the dependencies of the user service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service keeps the roster of known participants so hosts can enumerate
// invitable voters. Presence flags are written only through SetOnline,
// which the gateway's presence channel drives.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the user service and ensures the schema is present.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Database.AutoMigrate(&User{}); err != nil {
		return nil, err
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Upsert records a participant, refreshing the display name when provided.
func (s *Service) Upsert(ctx context.Context, userID, displayName string) error {
	userID = normalize(userID)
	if userID == "" {
		return ErrInvalidUser
	}
	user := User{
		UserID:      userID,
		DisplayName: normalize(displayName),
		LastSeenAt:  s.clock(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "last_seen_at"}),
		}).
		Create(&user).Error
}

// SetOnline flips the presence flag. Called by the sync gateway's presence
// channel; unknown users are ignored so a stray heartbeat cannot create a
// roster entry.
func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	userID = normalize(userID)
	if userID == "" {
		return ErrInvalidUser
	}
	return s.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"online": online, "last_seen_at": s.clock()}).
		Error
}

// Get returns a single user record.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: %s", ErrInvalidUser, userID)
	}
	return user, err
}

// List returns every known participant ordered by display name.
func (s *Service) List(ctx context.Context) ([]User, error) {
	var roster []User
	if err := s.db.WithContext(ctx).
		Order("display_name ASC, user_id ASC").
		Find(&roster).Error; err != nil {
		return nil, err
	}
	return roster, nil
}
