package contactutil

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/models"
)

// ResolveRecipients resolves a campaign's recipient specification into
// concrete contacts, excluding opted-out contacts. Static id lists
// tolerate ids that no longer resolve.
func ResolveRecipients(db *gorm.DB, campaign *models.Campaign) ([]models.Contact, error) {
	query := db.Where("workspace_id = ? AND opted_out = ?", campaign.WorkspaceID, false)

	switch campaign.RecipientSpecKind {
	case models.RecipientSpecStatic:
		if len(campaign.RecipientIDs) == 0 {
			return nil, nil
		}
		ids := make([]uuid.UUID, 0, len(campaign.RecipientIDs))
		for _, raw := range campaign.RecipientIDs {
			if id, err := uuid.Parse(raw); err == nil {
				ids = append(ids, id)
			}
		}
		query = query.Where("id IN ?", ids)

	case models.RecipientSpecAll:
		// no further filter

	case models.RecipientSpecTags:
		if len(campaign.RecipientTags) == 0 {
			return nil, nil
		}
		// Match contacts carrying any of the campaign's tags. The cast
		// keeps the predicate portable across jsonb and text storage.
		tagged := db.Session(&gorm.Session{NewDB: true})
		for i, tag := range campaign.RecipientTags {
			cond := db.Session(&gorm.Session{NewDB: true}).
				Where("CAST(tags AS TEXT) LIKE ?", `%"`+tag+`"%`)
			if i == 0 {
				tagged = cond
			} else {
				tagged = tagged.Or(cond)
			}
		}
		query = query.Where(tagged)

	case models.RecipientSpecSegment:
		if campaign.RecipientSegment == "" {
			return nil, nil
		}
		// Segments are stored as a tag namespace by the segments
		// subsystem.
		query = query.Where("CAST(tags AS TEXT) LIKE ?", `%"segment:`+campaign.RecipientSegment+`"%`)

	default:
		return nil, nil
	}

	var contacts []models.Contact
	if err := query.Order("created_at ASC").Find(&contacts).Error; err != nil {
		return nil, err
	}
	return contacts, nil
}

// CountRecipients returns the size of the resolved recipient set.
func CountRecipients(db *gorm.DB, campaign *models.Campaign) (int, error) {
	contacts, err := ResolveRecipients(db, campaign)
	if err != nil {
		return 0, err
	}
	return len(contacts), nil
}
