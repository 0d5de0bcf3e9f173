package contactutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/waveline/waveline/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Contact{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+14155550123", "14155550123", false},
		{"14155550123", "14155550123", false},
		{"+1 (415) 555-0123", "14155550123", false},
		{"91 98765 43210", "919876543210", false},
		{"abc123", "", true},
		{"123", "", true},
		{"12345678901234567890", "", true},
	}
	for _, tc := range tests {
		got, err := NormalizePhone(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestGetOrCreateContact(t *testing.T) {
	db := newTestDB(t)
	wsID := uuid.New()

	contact, err := GetOrCreateContact(db, wsID, "+14155550123", "Asha")
	require.NoError(t, err)
	assert.Equal(t, "14155550123", contact.PhoneNumber)
	assert.Equal(t, "Asha", contact.Name)

	// Same number without the plus resolves to the same contact
	again, err := GetOrCreateContact(db, wsID, "14155550123", "")
	require.NoError(t, err)
	assert.Equal(t, contact.ID, again.ID)

	// A different workspace gets its own contact
	other, err := GetOrCreateContact(db, uuid.New(), "14155550123", "")
	require.NoError(t, err)
	assert.NotEqual(t, contact.ID, other.ID)
}

func TestGetOrCreateContactBackfillsName(t *testing.T) {
	db := newTestDB(t)
	wsID := uuid.New()

	first, err := GetOrCreateContact(db, wsID, "14155550123", "")
	require.NoError(t, err)
	assert.Empty(t, first.Name)

	second, err := GetOrCreateContact(db, wsID, "14155550123", "Asha")
	require.NoError(t, err)
	assert.Equal(t, "Asha", second.Name)
}

func TestResolveField(t *testing.T) {
	contact := &models.Contact{
		PhoneNumber: "14155550123",
		Name:        "Asha",
		Email:       "asha@example.com",
		Attributes: models.JSONB{
			"city": "Pune",
			"order": map[string]interface{}{
				"id":    "ORD-42",
				"total": 199.5,
			},
		},
	}

	assert.Equal(t, "Asha", ResolveField(contact, "name"))
	assert.Equal(t, "14155550123", ResolveField(contact, "phone"))
	assert.Equal(t, "asha@example.com", ResolveField(contact, "email"))
	assert.Equal(t, "Pune", ResolveField(contact, "city"))
	assert.Equal(t, "Pune", ResolveField(contact, "attributes.city"))
	assert.Equal(t, "ORD-42", ResolveField(contact, "order.id"))
	assert.Equal(t, "199.5", ResolveField(contact, "order.total"))
	assert.Equal(t, "", ResolveField(contact, "missing"))
	assert.Equal(t, "", ResolveField(contact, "order.missing"))
}
