package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
)

// SendTextMessage sends a text message to a phone number
func (c *Client) SendTextMessage(ctx context.Context, account *Account, phoneNumber, text string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                phoneNumber,
		"type":              "text",
		"text": map[string]interface{}{
			"preview_url": false,
			"body":        text,
		},
	}

	return c.sendMessage(ctx, account, phoneNumber, payload)
}

// SendMediaMessage sends an image/video/document/audio message. mediaRef
// is either a Meta media id or a public link; refKind is "id" or "link".
func (c *Client) SendMediaMessage(ctx context.Context, account *Account, phoneNumber, mediaType, refKind, mediaRef, caption string) (string, error) {
	media := map[string]interface{}{
		refKind: mediaRef,
	}
	if caption != "" && (mediaType == "image" || mediaType == "video" || mediaType == "document") {
		media["caption"] = caption
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                phoneNumber,
		"type":              mediaType,
		mediaType:           media,
	}

	return c.sendMessage(ctx, account, phoneNumber, payload)
}

// SendTemplateMessage sends a template message with positional text body
// parameters only.
func (c *Client) SendTemplateMessage(ctx context.Context, account *Account, phoneNumber, templateName, languageCode string, bodyParams []string) (string, error) {
	var components []map[string]interface{}
	if len(bodyParams) > 0 {
		params := make([]map[string]interface{}, 0, len(bodyParams))
		for _, p := range bodyParams {
			params = append(params, map[string]interface{}{
				"type": "text",
				"text": p,
			})
		}
		components = []map[string]interface{}{
			{
				"type":       "body",
				"parameters": params,
			},
		}
	}

	return c.SendTemplateMessageWithComponents(ctx, account, phoneNumber, templateName, languageCode, components)
}

// SendTemplateMessageWithComponents sends a template message with full
// component control (header media, positional body params, button
// sub_type/index parameters).
func (c *Client) SendTemplateMessageWithComponents(ctx context.Context, account *Account, phoneNumber, templateName, languageCode string, components []map[string]interface{}) (string, error) {
	payload := BuildTemplatePayload(phoneNumber, templateName, languageCode, components)

	url := c.buildMessagesURL(account)
	c.Log.Debug("Sending template message", "phone", phoneNumber, "template", templateName)

	respBody, err := c.doRequest(ctx, "POST", url, payload, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to send template message", "error", err, "phone", phoneNumber, "template", templateName)
		return "", err
	}

	var resp MetaAPIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Messages) == 0 {
		return "", fmt.Errorf("no message ID in response")
	}

	messageID := resp.Messages[0].ID
	c.Log.Info("Template message sent", "message_id", messageID, "phone", phoneNumber, "template", templateName)
	return messageID, nil
}

// BuildTemplatePayload assembles the provider-shaped template send
// payload. Exposed so the preview path can compute it without sending.
func BuildTemplatePayload(phoneNumber, templateName, languageCode string, components []map[string]interface{}) map[string]interface{} {
	template := map[string]interface{}{
		"name": templateName,
		"language": map[string]interface{}{
			"code": languageCode,
		},
	}
	if len(components) > 0 {
		template["components"] = components
	}

	return map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                phoneNumber,
		"type":              "template",
		"template":          template,
	}
}

func (c *Client) sendMessage(ctx context.Context, account *Account, phoneNumber string, payload map[string]interface{}) (string, error) {
	url := c.buildMessagesURL(account)

	respBody, err := c.doRequest(ctx, "POST", url, payload, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to send message", "error", err, "phone", phoneNumber)
		return "", err
	}

	var resp MetaAPIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Messages) == 0 {
		return "", fmt.Errorf("no message ID in response")
	}

	messageID := resp.Messages[0].ID
	c.Log.Info("Message sent", "message_id", messageID, "phone", phoneNumber)
	return messageID, nil
}
