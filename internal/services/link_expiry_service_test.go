package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/docuflow/backend/internal/database"
	"github.com/docuflow/backend/internal/models"
)

func setupSweepDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	origDB := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = origDB })
}

func sweepLink(t *testing.T, active bool, expiresAt time.Time) models.UploadLink {
	t.Helper()
	client := models.Client{Name: "Acme Corp", ContactEmail: "ops@acme.test", IsActive: true}
	require.NoError(t, database.DB.Create(&client).Error)

	link := models.UploadLink{
		ID:        uuid.New().String(),
		Token:     uuid.New().String(),
		ClientID:  client.ID,
		ExpiresAt: expiresAt,
		IsActive:  active,
	}
	require.NoError(t, database.DB.Create(&link).Error)
	if !active {
		// gorm's default:true tag overrides the zero-value false on insert,
		// so persist the inactive flag explicitly
		require.NoError(t, database.DB.Model(&models.UploadLink{}).
			Where("id = ?", link.ID).Update("is_active", false).Error)
	}
	return link
}

func TestSweepDeactivatesExpiredLinks(t *testing.T) {
	setupSweepDB(t)
	now := time.Now()

	expired := sweepLink(t, true, now.Add(-1*time.Hour))
	current := sweepLink(t, true, now.Add(48*time.Hour))
	alreadyInactive := sweepLink(t, false, now.Add(-1*time.Hour))

	svc := NewLinkExpiryService(nil, 8)
	svc.Sweep(now)

	var stored models.UploadLink
	require.NoError(t, database.DB.First(&stored, "id = ?", expired.ID).Error)
	assert.False(t, stored.IsActive)
	assert.NotNil(t, stored.DeactivatedAt)

	stored = models.UploadLink{}
	require.NoError(t, database.DB.First(&stored, "id = ?", current.ID).Error)
	assert.True(t, stored.IsActive, "unexpired links must be untouched")
	assert.Nil(t, stored.DeactivatedAt)

	stored = models.UploadLink{}
	require.NoError(t, database.DB.First(&stored, "id = ?", alreadyInactive.ID).Error)
	assert.False(t, stored.IsActive)
}

func TestSweepBoundaryIsExclusive(t *testing.T) {
	setupSweepDB(t)
	now := time.Now()

	// A link expiring exactly now is not yet past "expires_at < now"
	boundary := sweepLink(t, true, now)

	svc := NewLinkExpiryService(nil, 8)
	svc.Sweep(now)

	var stored models.UploadLink
	require.NoError(t, database.DB.First(&stored, "id = ?", boundary.ID).Error)
	assert.True(t, stored.IsActive)
}

func TestSweepIdempotent(t *testing.T) {
	setupSweepDB(t)
	now := time.Now()
	expired := sweepLink(t, true, now.Add(-1*time.Hour))

	svc := NewLinkExpiryService(nil, 8)
	svc.Sweep(now)
	firstPass := models.UploadLink{}
	require.NoError(t, database.DB.First(&firstPass, "id = ?", expired.ID).Error)

	svc.Sweep(now.Add(time.Minute))
	secondPass := models.UploadLink{}
	require.NoError(t, database.DB.First(&secondPass, "id = ?", expired.ID).Error)

	// The second pass must not re-stamp the deactivation time
	require.NotNil(t, firstPass.DeactivatedAt)
	require.NotNil(t, secondPass.DeactivatedAt)
	assert.Equal(t, firstPass.DeactivatedAt.Unix(), secondPass.DeactivatedAt.Unix())
}
