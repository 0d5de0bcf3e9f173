package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// TemplateSubmission represents a template to be submitted to Meta
type TemplateSubmission struct {
	Name          string
	Language      string
	Category      string
	HeaderType    string
	HeaderContent string
	BodyContent   string
	FooterContent string
	Buttons       []interface{}
	SampleValues  []string
}

// SubmitTemplate submits a template for provider approval
func (c *Client) SubmitTemplate(ctx context.Context, account *Account, template *TemplateSubmission) (string, error) {
	url := c.buildTemplatesURL(account)

	components := []map[string]interface{}{}

	body := map[string]interface{}{
		"type": "BODY",
		"text": template.BodyContent,
	}
	if strings.Contains(template.BodyContent, "{{") {
		if len(template.SampleValues) == 0 {
			return "", fmt.Errorf("sample values are required for template variables")
		}
		body["example"] = map[string]interface{}{
			"body_text": [][]string{template.SampleValues},
		}
	}
	components = append(components, body)

	if template.HeaderType != "" && template.HeaderType != "NONE" {
		header := map[string]interface{}{
			"type":   "HEADER",
			"format": template.HeaderType,
		}
		switch template.HeaderType {
		case "TEXT":
			header["text"] = template.HeaderContent
		case "IMAGE", "VIDEO", "DOCUMENT":
			if template.HeaderContent != "" {
				header["example"] = map[string]interface{}{
					"header_handle": []string{template.HeaderContent},
				}
			}
		}
		components = append(components, header)
	}

	if template.FooterContent != "" {
		components = append(components, map[string]interface{}{
			"type": "FOOTER",
			"text": template.FooterContent,
		})
	}

	if len(template.Buttons) > 0 {
		components = append(components, map[string]interface{}{
			"type":    "BUTTONS",
			"buttons": template.Buttons,
		})
	}

	payload := map[string]interface{}{
		"name":       template.Name,
		"language":   template.Language,
		"category":   template.Category,
		"components": components,
	}

	c.Log.Info("Submitting template", "name", template.Name)

	respBody, err := c.doRequest(ctx, http.MethodPost, url, payload, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to submit template", "error", err, "name", template.Name)
		return "", err
	}

	var result TemplateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	c.Log.Info("Template submitted", "template_id", result.ID, "name", template.Name)
	return result.ID, nil
}

// FetchTemplates fetches all templates from the provider
func (c *Client) FetchTemplates(ctx context.Context, account *Account) ([]MetaTemplate, error) {
	url := fmt.Sprintf("%s?limit=100", c.buildTemplatesURL(account))

	respBody, err := c.doRequest(ctx, http.MethodGet, url, nil, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to fetch templates", "error", err)
		return nil, err
	}

	var result TemplateListResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.Log.Info("Fetched templates", "count", len(result.Data))
	return result.Data, nil
}

// DeleteTemplate deletes a template at the provider
func (c *Client) DeleteTemplate(ctx context.Context, account *Account, templateName string) error {
	url := fmt.Sprintf("%s?name=%s", c.buildTemplatesURL(account), templateName)

	_, err := c.doRequest(ctx, http.MethodDelete, url, nil, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to delete template", "error", err, "template", templateName)
		return err
	}

	c.Log.Info("Template deleted", "template", templateName)
	return nil
}
