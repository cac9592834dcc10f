package testutil

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yatube/yatube-server/cmd/models"
)

const TestSecret = "test-secret"

// NewTestDB opens an isolated in-memory database migrated with the full
// schema. The database name is derived from the test name so parallel tests
// never share state.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	os.Setenv("SECRET_KEY", TestSecret)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to create in memory db: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Post{},
		&models.Comment{},
		&models.Follow{},
		&models.PasswordResetToken{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate db: %v", err)
	}

	return db
}

// CreateUser inserts a user with a usable password hash.
func CreateUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	user := &models.User{
		Username:     username,
		FullName:     "Test " + username,
		Email:        username + "@example.com",
		PasswordHash: string(passwordHash),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return user
}

// AccessToken mints a bearer token for the user, signed the way the login
// handler signs them.
func AccessToken(t *testing.T, userID uint) string {
	t.Helper()

	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(userID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TestSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}
