package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/waveline/waveline/internal/automation"
	"github.com/waveline/waveline/internal/campaigns"
	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/database"
	"github.com/waveline/waveline/internal/handlers"
	"github.com/waveline/waveline/internal/lock"
	"github.com/waveline/waveline/internal/middleware"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/pipeline"
	"github.com/waveline/waveline/internal/preflight"
	"github.com/waveline/waveline/internal/queue"
	"github.com/waveline/waveline/internal/ratelimit"
	"github.com/waveline/waveline/internal/router"
	"github.com/waveline/waveline/internal/webhooks"
	"github.com/waveline/waveline/pkg/whatsapp"
	"github.com/waveline/waveline/test/testutil"
)

const testJWTSecret = "test-secret-0123456789abcdef"

type testApp struct {
	app *handlers.App
	db  *gorm.DB
	ws  *models.Workspace
	tpl *models.Template
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.JWT.Secret = testJWTSecret
	cfg.WhatsApp.WebhookVerifyToken = "verify-me"
	log := logf.New(logf.Opts{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.HANDLER"}},
		})
	}))
	t.Cleanup(srv.Close)

	lk := lock.New(rdb, log)
	limiter := ratelimit.New(rdb, cfg, log)
	pf := preflight.New(db, limiter, cfg, log)
	pub := queue.NewPublisher(rdb, log)
	svc := campaigns.New(db, rdb, lk, pf, pub, cfg, log)
	waClient := whatsapp.NewWithBaseURL(log, srv.URL)
	pipe := pipeline.New(db, waClient, cfg, log)
	rt := router.New(db, rdb, cfg, log)
	engine := automation.New(db, pipe, waClient, cfg, log)
	ingester := webhooks.New(db, rt, svc, engine, log)

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

	tpl := models.Template{
		WorkspaceID:       ws.ID,
		Name:              "order_update",
		Language:          "en",
		Category:          models.TemplateCategoryUtility,
		Status:            models.TemplateStatusApproved,
		BodyContent:       "Hi {{1}}, your order shipped.",
		BodyVariableCount: 1,
	}
	require.NoError(t, db.Create(&tpl).Error)

	app := &handlers.App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Log:       log,
		Campaigns: svc,
		Pipeline:  pipe,
		Preflight: pf,
		Router:    rt,
		Ingester:  ingester,
		Locks:     lk,
	}
	return &testApp{app: app, db: db, ws: &ws, tpl: &tpl}
}

// authenticate plants the context values the auth middleware would set.
func (ta *testApp) authenticate(req *fastglue.Request, admin bool) {
	req.RequestCtx.SetUserValue("user_id", uuid.New())
	req.RequestCtx.SetUserValue("workspace_id", ta.ws.ID)
	req.RequestCtx.SetUserValue("email", "ops@acme.test")
	req.RequestCtx.SetUserValue("is_admin", admin)
}

func (ta *testApp) seedUser(t *testing.T, password string, admin bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		WorkspaceID:  ta.ws.ID,
		Email:        fmt.Sprintf("user-%s@acme.test", uuid.New().String()[:8]),
		PasswordHash: string(hash),
		Name:         "Ops",
		IsAdmin:      admin,
		IsActive:     true,
	}
	require.NoError(t, ta.db.Create(&user).Error)
	return &user
}

func (ta *testApp) seedContacts(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		contact := models.Contact{
			WorkspaceID: ta.ws.ID,
			PhoneNumber: fmt.Sprintf("+1415555%04d", i),
			Name:        fmt.Sprintf("Contact %d", i),
		}
		require.NoError(t, ta.db.Create(&contact).Error)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	ta := newTestApp(t)
	user := ta.seedUser(t, "correct horse battery", false)

	req := testutil.NewJSONRequest(t, map[string]string{
		"email":    user.Email,
		"password": "correct horse battery",
	})
	require.NoError(t, ta.app.Login(req))
	require.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(req))

	var resp handlers.LoginResponse
	testutil.ParseEnvelopeResponse(t, req, &resp)
	require.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, user.Email, resp.User.Email)

	token, err := jwt.ParseWithClaims(resp.AccessToken, &middleware.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(testJWTSecret), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(*middleware.JWTClaims)
	assert.Equal(t, ta.ws.ID, claims.WorkspaceID)
	assert.False(t, claims.IsAdmin)

	assert.NotEmpty(t, testutil.GetResponseCookie(req, middleware.AccessCookie))
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	ta := newTestApp(t)
	user := ta.seedUser(t, "correct horse battery", false)

	req := testutil.NewJSONRequest(t, map[string]string{
		"email":    user.Email,
		"password": "wrong",
	})
	require.NoError(t, ta.app.Login(req))
	testutil.AssertErrorResponse(t, req, fasthttp.StatusUnauthorized, "Invalid credentials")
}

func TestCreateAndGetCampaign(t *testing.T) {
	ta := newTestApp(t)
	ta.seedContacts(t, 5)

	req := testutil.NewJSONRequest(t, map[string]interface{}{
		"name":                "spring promo",
		"template_id":         ta.tpl.ID,
		"recipient_spec_kind": "all",
		"variable_mapping":    map[string]string{"1": "name"},
	})
	ta.authenticate(req, false)
	require.NoError(t, ta.app.CreateCampaign(req))
	require.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(req))

	var created models.Campaign
	testutil.ParseEnvelopeResponse(t, req, &created)
	assert.Equal(t, models.CampaignStatusDraft, created.Status)
	assert.Equal(t, ta.ws.ID, created.WorkspaceID)

	get := testutil.NewGETRequest(t)
	ta.authenticate(get, false)
	testutil.SetPathParam(get, "id", created.ID.String())
	require.NoError(t, ta.app.GetCampaign(get))
	require.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(get))

	var fetched models.Campaign
	testutil.ParseEnvelopeResponse(t, get, &fetched)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestGetCampaignScopedToWorkspace(t *testing.T) {
	ta := newTestApp(t)
	other := models.Campaign{
		WorkspaceID: uuid.New(),
		Name:        "foreign",
		Status:      models.CampaignStatusDraft,
		TemplateID:  ta.tpl.ID,
	}
	require.NoError(t, ta.db.Create(&other).Error)

	get := testutil.NewGETRequest(t)
	ta.authenticate(get, false)
	testutil.SetPathParam(get, "id", other.ID.String())
	require.NoError(t, ta.app.GetCampaign(get))
	assert.Equal(t, fasthttp.StatusNotFound, testutil.GetResponseStatusCode(get))
}

func TestStartCampaignPreflightFailureReturnsReport(t *testing.T) {
	ta := newTestApp(t)
	// No contacts seeded, so the recipient check must fail.
	req := testutil.NewJSONRequest(t, map[string]interface{}{
		"name":                "empty promo",
		"template_id":         ta.tpl.ID,
		"recipient_spec_kind": "all",
	})
	ta.authenticate(req, false)
	require.NoError(t, ta.app.CreateCampaign(req))
	var created models.Campaign
	testutil.ParseEnvelopeResponse(t, req, &created)

	start := testutil.NewJSONRequest(t, nil)
	ta.authenticate(start, false)
	testutil.SetPathParam(start, "id", created.ID.String())
	require.NoError(t, ta.app.StartCampaign(start))
	require.Equal(t, fasthttp.StatusUnprocessableEntity, testutil.GetResponseStatusCode(start))

	var report preflight.Report
	envelope := testutil.ParseEnvelopeResponse(t, start, &report)
	assert.Equal(t, "error", envelope.Status)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)

	// Still DRAFT, and the lock must have been released.
	var after models.Campaign
	require.NoError(t, ta.db.First(&after, "id = ?", created.ID).Error)
	assert.Equal(t, models.CampaignStatusDraft, after.Status)
	info, err := ta.app.Locks.Check(start.RequestCtx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestSendTemplateMessage(t *testing.T) {
	ta := newTestApp(t)

	req := testutil.NewJSONRequest(t, map[string]interface{}{
		"template_id": ta.tpl.ID.String(),
		"phone":       "+14155550100",
		"body_params": []string{"Dana"},
	})
	ta.authenticate(req, false)
	require.NoError(t, ta.app.SendTemplateMessage(req))
	require.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(req))

	var result pipeline.SendResult
	testutil.ParseEnvelopeResponse(t, req, &result)
	assert.Equal(t, "wamid.HANDLER", result.ProviderMessageID)
	assert.False(t, result.Skipped)
}

func TestSendTemplateMessageArityMismatch(t *testing.T) {
	ta := newTestApp(t)

	req := testutil.NewJSONRequest(t, map[string]interface{}{
		"template_id": ta.tpl.ID.String(),
		"phone":       "+14155550100",
		"body_params": []string{"Dana", "extra"},
	})
	ta.authenticate(req, false)
	require.NoError(t, ta.app.SendTemplateMessage(req))
	assert.Equal(t, fasthttp.StatusBadRequest, testutil.GetResponseStatusCode(req))
}

func TestKillSwitchRequiresAdmin(t *testing.T) {
	ta := newTestApp(t)

	req := testutil.NewJSONRequest(t, handlers.KillSwitchRequest{Active: true, Reason: "incident"})
	ta.authenticate(req, false)
	require.NoError(t, ta.app.SetKillSwitch(req))
	assert.Equal(t, fasthttp.StatusForbidden, testutil.GetResponseStatusCode(req))
}

func TestKillSwitchSetAndClear(t *testing.T) {
	ta := newTestApp(t)

	set := testutil.NewJSONRequest(t, handlers.KillSwitchRequest{Active: true, Reason: "incident"})
	ta.authenticate(set, true)
	require.NoError(t, ta.app.SetKillSwitch(set))
	require.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(set))

	get := testutil.NewGETRequest(t)
	ta.authenticate(get, true)
	require.NoError(t, ta.app.GetKillSwitch(get))
	var state campaigns.KillSwitchState
	testutil.ParseEnvelopeResponse(t, get, &state)
	assert.True(t, state.Active)
	assert.Equal(t, "incident", state.Reason)

	clear := testutil.NewJSONRequest(t, handlers.KillSwitchRequest{Active: false})
	ta.authenticate(clear, true)
	require.NoError(t, ta.app.SetKillSwitch(clear))

	get2 := testutil.NewGETRequest(t)
	ta.authenticate(get2, true)
	require.NoError(t, ta.app.GetKillSwitch(get2))
	var cleared campaigns.KillSwitchState
	testutil.ParseEnvelopeResponse(t, get2, &cleared)
	assert.False(t, cleared.Active)
}

func TestForceReleaseLock(t *testing.T) {
	ta := newTestApp(t)
	campaignID := uuid.New()
	_, err := ta.app.Locks.Acquire(context.Background(), campaignID, "worker-1", time.Hour)
	require.NoError(t, err)

	req := testutil.NewJSONRequest(t, nil)
	ta.authenticate(req, true)
	testutil.SetPathParam(req, "id", campaignID.String())
	require.NoError(t, ta.app.ForceReleaseLock(req))
	require.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(req))

	info, err := ta.app.Locks.Check(req.RequestCtx, campaignID)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestWebhookVerifyEchoesChallenge(t *testing.T) {
	ta := newTestApp(t)

	req := testutil.NewGETRequest(t)
	testutil.SetQueryParam(req, "hub.mode", "subscribe")
	testutil.SetQueryParam(req, "hub.verify_token", "verify-me")
	testutil.SetQueryParam(req, "hub.challenge", "challenge-42")
	require.NoError(t, ta.app.WebhookVerify(req))
	assert.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(req))
	assert.Equal(t, "challenge-42", string(req.RequestCtx.Response.Body()))
}

func TestWebhookVerifyRejectsBadToken(t *testing.T) {
	ta := newTestApp(t)

	req := testutil.NewGETRequest(t)
	testutil.SetQueryParam(req, "hub.mode", "subscribe")
	testutil.SetQueryParam(req, "hub.verify_token", "nope")
	testutil.SetQueryParam(req, "hub.challenge", "challenge-42")
	require.NoError(t, ta.app.WebhookVerify(req))
	assert.Equal(t, fasthttp.StatusForbidden, testutil.GetResponseStatusCode(req))
}

func TestWebhookHandlerAlwaysAccepts(t *testing.T) {
	ta := newTestApp(t)

	// Unparseable body is acknowledged so Meta stops retrying.
	bad := testutil.NewJSONRequest(t, nil)
	bad.RequestCtx.Request.SetBody([]byte("not json"))
	require.NoError(t, ta.app.WebhookHandler(bad))
	assert.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(bad))

	// A well-formed payload for an unknown phone id is logged.
	payload := whatsapp.WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsapp.WebhookEntry{{
			ID: "waba-unknown",
			Changes: []whatsapp.WebhookChange{{
				Field: "messages",
				Value: whatsapp.WebhookValue{
					MessagingProduct: "whatsapp",
					Metadata:         whatsapp.WebhookMetadata{PhoneNumberID: "999999"},
					Statuses: []whatsapp.WebhookStatus{{
						ID:          "wamid.UNKNOWN",
						Status:      "delivered",
						RecipientID: "14155550100",
					}},
				},
			}},
		}},
	}
	good := testutil.NewJSONRequest(t, payload)
	require.NoError(t, ta.app.WebhookHandler(good))
	assert.Equal(t, fasthttp.StatusOK, testutil.GetResponseStatusCode(good))

	ta.app.WaitForBackgroundTasks()

	var logs int64
	require.NoError(t, ta.db.Model(&models.WebhookLog{}).Count(&logs).Error)
	assert.Equal(t, int64(1), logs)
}

func TestListSendableTemplates(t *testing.T) {
	ta := newTestApp(t)
	rejected := models.Template{
		WorkspaceID: ta.ws.ID,
		Name:        "spammy",
		Language:    "en",
		Status:      models.TemplateStatusRejected,
		BodyContent: "Buy now",
	}
	require.NoError(t, ta.db.Create(&rejected).Error)

	req := testutil.NewGETRequest(t)
	ta.authenticate(req, false)
	require.NoError(t, ta.app.ListSendableTemplates(req))

	var resp struct {
		Templates []models.Template `json:"templates"`
		Total     int               `json:"total"`
	}
	testutil.ParseEnvelopeResponse(t, req, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "order_update", resp.Templates[0].Name)
}
