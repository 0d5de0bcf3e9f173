package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GetPhoneDetails fetches phone-number metadata including the current
// quality rating and messaging tier.
func (c *Client) GetPhoneDetails(ctx context.Context, account *Account) (*PhoneDetails, error) {
	url := fmt.Sprintf("%s?fields=display_phone_number,verified_name,quality_rating,messaging_limit_tier,status", c.buildPhoneURL(account))

	respBody, err := c.doRequest(ctx, http.MethodGet, url, nil, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to fetch phone details", "error", err, "phone_id", account.PhoneID)
		return nil, err
	}

	var details PhoneDetails
	if err := json.Unmarshal(respBody, &details); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &details, nil
}

// RegisterPhone registers the phone number for Cloud API messaging.
func (c *Client) RegisterPhone(ctx context.Context, account *Account, pin string) error {
	url := fmt.Sprintf("%s/register", c.buildPhoneURL(account))

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"pin":               pin,
	}

	_, err := c.doRequest(ctx, http.MethodPost, url, payload, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to register phone", "error", err, "phone_id", account.PhoneID)
		return err
	}

	c.Log.Info("Phone registered", "phone_id", account.PhoneID)
	return nil
}
