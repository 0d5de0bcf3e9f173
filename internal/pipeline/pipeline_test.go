package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/waerr"
	"github.com/waveline/waveline/pkg/whatsapp"
)

type providerMock struct {
	srv   *httptest.Server
	calls atomic.Int64
	// status and body override the default success response
	status int
	body   string
}

func newProviderMock(t *testing.T) *providerMock {
	t.Helper()
	m := &providerMock{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		if m.status != 0 {
			w.WriteHeader(m.status)
			w.Write([]byte(m.body))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.TEST"}},
		})
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func newService(t *testing.T, mock *providerMock) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Workspace{}, &models.Template{}, &models.Message{}, &models.CampaignMessage{},
	))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Campaigns.InterMessagePauseMs = 1

	log := logf.New(logf.Opts{})
	client := whatsapp.NewWithBaseURL(log, mock.srv.URL)
	return New(db, client, cfg, log), db
}

func seedWorkspace(t *testing.T, db *gorm.DB) *models.Workspace {
	t.Helper()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	ws := models.Workspace{
		Name:           "Acme",
		Plan:           models.PlanBasic,
		AccessToken:    "token",
		TokenExpiresAt: &expiry,
		PhoneNumberID:  "555001",
		PhoneStatus:    models.PhoneConnected,
		QualityRating:  models.QualityGreen,
		MessagingTier:  models.Tier1K,
	}
	require.NoError(t, db.Create(&ws).Error)
	return &ws
}

func seedTemplate(t *testing.T, db *gorm.DB, wsID uuid.UUID) *models.Template {
	t.Helper()
	tpl := models.Template{
		WorkspaceID:       wsID,
		Name:              "order_update",
		Language:          "en",
		Status:            models.TemplateStatusApproved,
		BodyContent:       "Hello {{1}}, your order {{2}} shipped",
		BodyVariableCount: 2,
	}
	require.NoError(t, db.Create(&tpl).Error)
	return &tpl
}

func TestSendTemplateHappyPath(t *testing.T) {
	mock := newProviderMock(t)
	svc, db := newService(t, mock)
	ws := seedWorkspace(t, db)
	tpl := seedTemplate(t, db, ws.ID)

	res, err := svc.SendTemplate(context.Background(), &SendInput{
		WorkspaceID: ws.ID,
		TemplateID:  tpl.ID,
		Phone:       "+14155550123",
		BodyParams:  []string{"Asha", "ORD-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.TEST", res.ProviderMessageID)
	assert.False(t, res.Skipped)

	var msg models.Message
	require.NoError(t, db.First(&msg, "provider_message_id = ?", "wamid.TEST").Error)
	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.Equal(t, "Hello Asha, your order ORD-42 shipped", msg.Content)
	assert.NotNil(t, msg.SentAt)
}

func TestSendTemplateValidationErrors(t *testing.T) {
	mock := newProviderMock(t)
	svc, db := newService(t, mock)
	ws := seedWorkspace(t, db)
	tpl := seedTemplate(t, db, ws.ID)

	tests := []struct {
		name string
		in   *SendInput
		kind waerr.Kind
	}{
		{"template not found", &SendInput{WorkspaceID: ws.ID, TemplateID: uuid.New(), Phone: "14155550123"}, waerr.KindTemplateNotFound},
		{"arity mismatch", &SendInput{WorkspaceID: ws.ID, TemplateID: tpl.ID, Phone: "14155550123", BodyParams: []string{"only-one"}}, waerr.KindVariableCountMismatch},
		{"invalid phone", &SendInput{WorkspaceID: ws.ID, TemplateID: tpl.ID, Phone: "not-a-phone", BodyParams: []string{"a", "b"}}, waerr.KindInvalidRecipient},
		{"unknown workspace", &SendInput{WorkspaceID: uuid.New(), TemplateID: tpl.ID, Phone: "14155550123", BodyParams: []string{"a", "b"}}, waerr.KindWorkspaceNotConfigured},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SendTemplate(context.Background(), tc.in)
			require.Error(t, err)
			assert.True(t, waerr.Is(err, tc.kind), "want %s, got %v", tc.kind, err)
		})
	}
	assert.Equal(t, int64(0), mock.calls.Load(), "no provider calls for validation failures")
}

func TestSendTemplateOwnershipMismatch(t *testing.T) {
	mock := newProviderMock(t)
	svc, db := newService(t, mock)
	ws := seedWorkspace(t, db)
	other := seedWorkspace(t, db)
	tpl := seedTemplate(t, db, other.ID)

	_, err := svc.SendTemplate(context.Background(), &SendInput{
		WorkspaceID: ws.ID,
		TemplateID:  tpl.ID,
		Phone:       "14155550123",
		BodyParams:  []string{"a", "b"},
	})
	assert.True(t, waerr.Is(err, waerr.KindTemplateOwnershipMismatch))
}

func TestSendTemplateNotApproved(t *testing.T) {
	mock := newProviderMock(t)
	svc, db := newService(t, mock)
	ws := seedWorkspace(t, db)
	tpl := seedTemplate(t, db, ws.ID)
	require.NoError(t, db.Model(tpl).Update("status", models.TemplateStatusRevoked).Error)

	_, err := svc.SendTemplate(context.Background(), &SendInput{
		WorkspaceID: ws.ID,
		TemplateID:  tpl.ID,
		Phone:       "14155550123",
		BodyParams:  []string{"a", "b"},
	})
	assert.True(t, waerr.Is(err, waerr.KindTemplateNotApproved))
}

func TestSendTemplateIdempotentSkip(t *testing.T) {
	mock := newProviderMock(t)
	svc, db := newService(t, mock)
	ws := seedWorkspace(t, db)
	tpl := seedTemplate(t, db, ws.ID)

	campaignID := uuid.New()
	contactID := uuid.New()
	cm := models.CampaignMessage{
		CampaignID:        campaignID,
		ContactID:         contactID,
		WorkspaceID:       ws.ID,
		Status:            models.MessageStatusDelivered,
		ProviderMessageID: "wamid.EXISTING",
	}
	require.NoError(t, db.Create(&cm).Error)

	res, err := svc.SendTemplate(context.Background(), &SendInput{
		WorkspaceID: ws.ID,
		TemplateID:  tpl.ID,
		Phone:       "14155550123",
		BodyParams:  []string{"a", "b"},
		CampaignID:  &campaignID,
		ContactID:   &contactID,
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "wamid.EXISTING", res.ProviderMessageID)
	assert.Equal(t, int64(0), mock.calls.Load(), "replay must not emit a provider send")
}

func TestSendTemplateProviderError(t *testing.T) {
	mock := newProviderMock(t)
	mock.status = http.StatusTooManyRequests
	mock.body = `{"error":{"message":"rate limited","code":130429}}`
	svc, db := newService(t, mock)
	ws := seedWorkspace(t, db)
	tpl := seedTemplate(t, db, ws.ID)

	_, err := svc.SendTemplate(context.Background(), &SendInput{
		WorkspaceID: ws.ID,
		TemplateID:  tpl.ID,
		Phone:       "14155550123",
		BodyParams:  []string{"a", "b"},
	})
	require.Error(t, err)
	assert.True(t, waerr.Is(err, waerr.KindMetaAPIError))

	apiErr, ok := whatsapp.AsAPIError(err)
	require.True(t, ok, "classified provider error must unwrap")
	assert.Equal(t, whatsapp.ClassRateLimit, apiErr.Class)

	var count int64
	db.Model(&models.Message{}).Where("workspace_id = ?", ws.ID).Count(&count)
	assert.Zero(t, count, "failed sends persist no message")
}

func TestSendBulk(t *testing.T) {
	mock := newProviderMock(t)
	svc, db := newService(t, mock)
	ws := seedWorkspace(t, db)
	tpl := seedTemplate(t, db, ws.ID)

	in := &SendInput{WorkspaceID: ws.ID, TemplateID: tpl.ID, BodyParams: []string{"a", "b"}}
	results, err := svc.SendBulk(context.Background(), in, []string{"14155550001", "14155550002", "bogus"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "wamid.TEST", results[0].ProviderMessageID)
	assert.Empty(t, results[1].Error)
	assert.NotEmpty(t, results[2].Error, "bad phone recorded, not propagated")

	tooMany := make([]string, MaxBulkRecipients+1)
	for i := range tooMany {
		tooMany[i] = "14155550000"
	}
	_, err = svc.SendBulk(context.Background(), in, tooMany)
	assert.Error(t, err)
}

func TestPreviewTemplate(t *testing.T) {
	mock := newProviderMock(t)
	svc, db := newService(t, mock)
	ws := seedWorkspace(t, db)
	tpl := seedTemplate(t, db, ws.ID)

	preview, err := svc.PreviewTemplate(context.Background(), &SendInput{
		WorkspaceID: ws.ID,
		TemplateID:  tpl.ID,
		Phone:       "+14155550123",
		BodyParams:  []string{"Asha", "ORD-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Asha, your order ORD-42 shipped", preview.FilledBody)
	assert.Equal(t, "template", preview.Payload["type"])
	assert.Equal(t, "14155550123", preview.Payload["to"])
	assert.Equal(t, int64(0), mock.calls.Load(), "preview never sends")
}

func TestBuildComponentsMediaHeaderAndButtons(t *testing.T) {
	tpl := &models.Template{
		HeaderType:          models.HeaderTypeImage,
		HeaderContent:       "https://cdn.example.com/banner.jpg",
		BodyVariableCount:   1,
		ButtonVariableCount: 1,
	}
	components := BuildComponents(tpl, &SendInput{
		BodyParams:   []string{"Asha"},
		ButtonParams: []string{"order/42"},
	})
	require.Len(t, components, 3)
	assert.Equal(t, "header", components[0]["type"])
	assert.Equal(t, "body", components[1]["type"])
	assert.Equal(t, "button", components[2]["type"])
	assert.Equal(t, "url", components[2]["sub_type"])
	assert.Equal(t, 0, components[2]["index"])

	// An uploaded media id overrides the template link
	components = BuildComponents(tpl, &SendInput{
		BodyParams:    []string{"Asha"},
		HeaderMediaID: "MEDIA-1",
	})
	header := components[0]["parameters"].([]map[string]interface{})[0]
	image := header["image"].(map[string]interface{})
	assert.Equal(t, "MEDIA-1", image["id"])
}
