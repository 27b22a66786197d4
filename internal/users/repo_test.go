package users

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/enums"
)

func setupUsersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'client',
  is_active INTEGER NOT NULL DEFAULT 1,
  last_login_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func TestFindByIDReturnsNilOnMiss(t *testing.T) {
	repo := NewRepository(setupUsersTestDB(t))

	user, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestFindByIDAndEmail(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)

	seeded := &models.User{
		ID:        uuid.New(),
		Email:     "coach@example.com",
		FirstName: "Sam",
		LastName:  "Reyes",
		Role:      enums.MemberRoleCoach,
		IsActive:  true,
	}
	require.NoError(t, db.Create(seeded).Error)

	byID, err := repo.FindByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	require.Equal(t, seeded.Email, byID.Email)

	byEmail, err := repo.FindByEmail(context.Background(), "coach@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	require.Equal(t, seeded.ID, byEmail.ID)
}

func TestUpdateLastLogin(t *testing.T) {
	db := setupUsersTestDB(t)
	repo := NewRepository(db)

	seeded := &models.User{
		ID:        uuid.New(),
		Email:     "client@example.com",
		FirstName: "Ana",
		LastName:  "Kim",
		Role:      enums.MemberRoleClient,
		IsActive:  true,
	}
	require.NoError(t, db.Create(seeded).Error)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateLastLogin(context.Background(), seeded.ID, at))

	reloaded, err := repo.FindByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastLoginAt)
}
