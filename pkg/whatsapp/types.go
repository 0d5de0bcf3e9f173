package whatsapp

import "time"

// Account represents WhatsApp Business Account credentials
type Account struct {
	PhoneID     string
	BusinessID  string
	APIVersion  string
	AccessToken string
}

// MetaAPIResponse represents a successful API response from Meta
type MetaAPIResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MetaAPIError represents an error response from Meta API
type MetaAPIError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		ErrorUserMsg string `json:"error_user_msg"`
		ErrorData    struct {
			Details string `json:"details"`
		} `json:"error_data"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// PhoneDetails represents phone-number metadata fetched from Meta
type PhoneDetails struct {
	ID                 string `json:"id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
	QualityRating      string `json:"quality_rating"`
	MessagingLimitTier string `json:"messaging_limit_tier"`
	Status             string `json:"status"`
}

// TemplateResponse represents response from template submission
type TemplateResponse struct {
	ID string `json:"id"`
}

// MetaTemplate represents a template fetched from Meta
type MetaTemplate struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Category   string              `json:"category"`
	Status     string              `json:"status"`
	Components []TemplateComponent `json:"components"`
}

// TemplateComponent represents a component of a template
type TemplateComponent struct {
	Type    string           `json:"type"`
	Format  string           `json:"format,omitempty"`
	Text    string           `json:"text,omitempty"`
	Buttons []TemplateButton `json:"buttons,omitempty"`
	Example *TemplateExample `json:"example,omitempty"`
}

// TemplateButton represents a button in a template
type TemplateButton struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	URL         string `json:"url,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Example     any    `json:"example,omitempty"`
}

// TemplateExample represents example values for template variables
type TemplateExample struct {
	HeaderText []string   `json:"header_text,omitempty"`
	BodyText   [][]string `json:"body_text,omitempty"`
}

// TemplateListResponse represents response from fetching templates
type TemplateListResponse struct {
	Data []MetaTemplate `json:"data"`
}

// WebhookPayload represents the incoming webhook from Meta
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry represents an entry in the webhook payload
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange represents a change in the webhook entry
type WebhookChange struct {
	Value WebhookValue `json:"value"`
	Field string       `json:"field"`
}

// WebhookValue represents the value of a webhook change
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
	Statuses         []WebhookStatus  `json:"statuses,omitempty"`

	// Template state update events (field=message_template_status_update)
	Event                  string `json:"event,omitempty"`
	MessageTemplateID      int64  `json:"message_template_id,omitempty"`
	MessageTemplateName    string `json:"message_template_name,omitempty"`
	MessageTemplateLang    string `json:"message_template_language,omitempty"`
	Reason                 string `json:"reason,omitempty"`
	// Quality/tier update events (field=phone_number_quality_update)
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	CurrentLimit       string `json:"current_limit,omitempty"`
	// Account update events (field=account_update)
	BanInfo *WebhookBanInfo `json:"ban_info,omitempty"`
}

// WebhookBanInfo carries account ban details on account_update events
type WebhookBanInfo struct {
	WabaBanState string `json:"waba_ban_state"`
	WabaBanDate  string `json:"waba_ban_date"`
}

// WebhookMetadata represents metadata in webhook
type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact represents a contact in webhook
type WebhookContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// WebhookMessage represents an incoming message
type WebhookMessage struct {
	From      string                 `json:"from"`
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Text      *WebhookText           `json:"text,omitempty"`
	Image     *WebhookMedia          `json:"image,omitempty"`
	Document  *WebhookMedia          `json:"document,omitempty"`
	Audio     *WebhookMedia          `json:"audio,omitempty"`
	Video     *WebhookMedia          `json:"video,omitempty"`
	Referral  *WebhookReferral       `json:"referral,omitempty"`
	Context   *WebhookMessageContext `json:"context,omitempty"`
}

// WebhookText represents text content in a message
type WebhookText struct {
	Body string `json:"body"`
}

// WebhookMedia represents media in a message
type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebhookReferral carries ad-lead attribution on click-to-WhatsApp messages
type WebhookReferral struct {
	SourceURL  string `json:"source_url"`
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type"`
	Headline   string `json:"headline,omitempty"`
}

// WebhookMessageContext represents message context (for replies)
type WebhookMessageContext struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Forwarded bool   `json:"forwarded,omitempty"`
}

// WebhookStatus represents a message status update
type WebhookStatus struct {
	ID           string               `json:"id"`
	Status       string               `json:"status"`
	Timestamp    string               `json:"timestamp"`
	RecipientID  string               `json:"recipient_id"`
	Conversation *WebhookConversation `json:"conversation,omitempty"`
	Pricing      *WebhookPricing      `json:"pricing,omitempty"`
	Errors       []WebhookStatusError `json:"errors,omitempty"`
}

// WebhookConversation carries the provider conversation id on statuses
type WebhookConversation struct {
	ID     string `json:"id"`
	Origin *struct {
		Type string `json:"type"`
	} `json:"origin,omitempty"`
}

// WebhookPricing carries billing attribution on statuses
type WebhookPricing struct {
	Billable     bool   `json:"billable"`
	PricingModel string `json:"pricing_model"`
	Category     string `json:"category"`
}

// WebhookStatusError represents an error in status update
type WebhookStatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// ParsedTimestamp converts the webhook's unix-seconds string, falling
// back to now for malformed values.
func ParsedTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Now()
	}
	var secs int64
	for _, ch := range ts {
		if ch < '0' || ch > '9' {
			return time.Now()
		}
		secs = secs*10 + int64(ch-'0')
	}
	return time.Unix(secs, 0)
}
