// Package auth supplies stable user identities for Steam accounts and the
// bearer tokens the API layer checks. Steam OpenID verification happens
// upstream; this service only records its outcome.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"qwikskin/internal/models"
)

var (
	// ErrUserNotFound is returned when no user has the given id.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrInvalidToken is returned for expired or malformed tokens.
	ErrInvalidToken = errors.New("auth: invalid or expired token")
)

const tokenTTL = 7 * 24 * time.Hour

type Claims struct {
	UserID  string `json:"user_id"`
	SteamID string `json:"steam_id"`
	jwt.RegisteredClaims
}

type Service struct {
	db        *gorm.DB
	jwtSecret []byte
}

func NewService(db *gorm.DB, jwtSecret string) *Service {
	return &Service{db: db, jwtSecret: []byte(jwtSecret)}
}

// AuthenticateWithSteam upserts the user for a verified Steam identity and
// reports whether the account is new.
func (s *Service) AuthenticateWithSteam(steamID, username, avatarURL string) (*models.User, bool, error) {
	var user models.User
	err := s.db.Where("steam_id = ?", steamID).First(&user).Error
	switch {
	case err == nil:
		user.Username = username
		user.AvatarURL = avatarURL
		user.UpdatedAt = time.Now()
		if err := s.db.Save(&user).Error; err != nil {
			return nil, false, err
		}
		return &user, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := time.Now()
		user = models.User{
			ID:        "user_" + uuid.NewString(),
			SteamID:   steamID,
			Username:  username,
			AvatarURL: avatarURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, false, err
		}
		log.WithFields(log.Fields{"user_id": user.ID, "steam_id": steamID}).Info("New user registered")
		return &user, true, nil
	default:
		return nil, false, err
	}
}

// GetUser fetches one user by id.
func (s *Service) GetUser(userID string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUsername changes a user's display name.
func (s *Service) UpdateUsername(userID, username string) error {
	result := s.db.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"username": username, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}

// IssueToken signs a bearer token for the user.
func (s *Service) IssueToken(user *models.User) (string, error) {
	claims := Claims{
		UserID:  user.ID,
		SteamID: user.SteamID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.ID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// ValidateToken parses and verifies a bearer token.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
