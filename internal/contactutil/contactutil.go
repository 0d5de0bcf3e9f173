// Package contactutil provides contact lookup, phone normalization,
// and contact field resolution for campaign variable mapping.
package contactutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/models"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// NormalizePhone normalizes a phone number to digits-only E.164 form
// without the leading plus. Returns an error for anything that cannot
// be a valid WhatsApp recipient.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.TrimSpace(phone)
	cleaned = strings.TrimPrefix(cleaned, "+")
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, cleaned)

	if !digitsOnly.MatchString(cleaned) {
		return "", fmt.Errorf("phone number contains invalid characters: %q", phone)
	}
	if len(cleaned) < 7 || len(cleaned) > 15 {
		return "", fmt.Errorf("phone number length out of range: %q", phone)
	}
	return cleaned, nil
}

// GetOrCreateContact finds a contact by phone number within a
// workspace, creating it if missing. Lookup tolerates stored numbers
// with or without a leading plus.
func GetOrCreateContact(db *gorm.DB, workspaceID uuid.UUID, phoneNumber, name string) (*models.Contact, error) {
	normalized, err := NormalizePhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	var contact models.Contact
	err = db.Where("workspace_id = ? AND phone_number IN ?", workspaceID,
		[]string{normalized, "+" + normalized}).First(&contact).Error
	if err == nil {
		// Backfill the name from the profile when we have nothing better
		if contact.Name == "" && name != "" {
			db.Model(&contact).Update("name", name)
			contact.Name = name
		}
		return &contact, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	contact = models.Contact{
		WorkspaceID: workspaceID,
		PhoneNumber: normalized,
		Name:        name,
		Tags:        models.StringArray{},
		Attributes:  models.JSONB{},
	}
	if err := db.Create(&contact).Error; err != nil {
		// Concurrent webhook deliveries can race the create; re-fetch
		var existing models.Contact
		if ferr := db.Where("workspace_id = ? AND phone_number IN ?", workspaceID,
			[]string{normalized, "+" + normalized}).First(&existing).Error; ferr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &contact, nil
}

// ResolveField resolves a variable-mapping field path against a
// contact. Known fields are addressed directly; everything else is
// looked up in the Attributes JSONB, with dots traversing nested maps.
func ResolveField(contact *models.Contact, path string) string {
	switch strings.ToLower(path) {
	case "name":
		return contact.Name
	case "phone", "phone_number":
		return contact.PhoneNumber
	case "email":
		return contact.Email
	}

	path = strings.TrimPrefix(path, "attributes.")
	var current interface{} = map[string]interface{}(contact.Attributes)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current, ok = m[part]
		if !ok {
			return ""
		}
	}
	if current == nil {
		return ""
	}
	return fmt.Sprintf("%v", current)
}
