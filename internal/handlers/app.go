package handlers

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/campaigns"
	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/lock"
	"github.com/waveline/waveline/internal/middleware"
	"github.com/waveline/waveline/internal/pipeline"
	"github.com/waveline/waveline/internal/preflight"
	"github.com/waveline/waveline/internal/router"
	"github.com/waveline/waveline/internal/waerr"
	"github.com/waveline/waveline/internal/webhooks"
)

// App holds all dependencies for handlers
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Log       logf.Logger
	Campaigns *campaigns.Service
	Pipeline  *pipeline.Service
	Preflight *preflight.Validator
	Router    *router.Router
	Ingester  *webhooks.Ingester
	Locks     *lock.Service

	// wg tracks webhook processing goroutines for graceful shutdown
	wg sync.WaitGroup
}

// WaitForBackgroundTasks blocks until all in-flight webhook processing
// completes. Call during graceful shutdown.
func (a *App) WaitForBackgroundTasks() {
	a.wg.Wait()
}

// getWorkspaceID extracts the workspace ID from the request context (set
// by auth middleware). Platform admins can act on another workspace by
// passing the X-Workspace-ID header.
func (a *App) getWorkspaceID(r *fastglue.Request) (uuid.UUID, error) {
	wsID, ok := middleware.GetWorkspaceID(r)
	if !ok {
		return uuid.Nil, errors.New("workspace_id not found in context")
	}

	if middleware.IsAdmin(r) {
		override := string(r.RequestCtx.Request.Header.Peek("X-Workspace-ID"))
		if override != "" {
			if parsed, err := uuid.Parse(override); err == nil {
				return parsed, nil
			}
		}
	}

	return wsID, nil
}

// actor returns the authenticated identity for audit trails.
func (a *App) actor(r *fastglue.Request) string {
	if email := middleware.GetEmail(r); email != "" {
		return email
	}
	if userID, ok := middleware.GetUserID(r); ok {
		return userID.String()
	}
	return "unknown"
}

// decodeRequest decodes a JSON body and sends the error envelope on
// failure. Callers return nil when it errors.
func (a *App) decodeRequest(r *fastglue.Request, v interface{}) error {
	if err := r.Decode(v, "json"); err != nil {
		_ = r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid request body", nil, "")
		return err
	}
	return nil
}

// pathUUID parses a UUID path parameter.
func pathUUID(r *fastglue.Request, name string) (uuid.UUID, error) {
	raw, _ := r.RequestCtx.UserValue(name).(string)
	return uuid.Parse(raw)
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind waerr.Kind) int {
	switch kind {
	case waerr.KindCampaignNotFound, waerr.KindTemplateNotFound, waerr.KindMessageNotFound:
		return fasthttp.StatusNotFound
	case waerr.KindInvalidStatus, waerr.KindInvalidRecipient,
		waerr.KindVariableCountMismatch, waerr.KindTemplateOwnershipMismatch:
		return fasthttp.StatusBadRequest
	case waerr.KindCampaignAlreadyRunning, waerr.KindLockError, waerr.KindKillSwitchActive:
		return fasthttp.StatusConflict
	case waerr.KindDailyLimitExceeded, waerr.KindMonthlyLimitExceeded, waerr.KindTierLimitExceeded:
		return fasthttp.StatusTooManyRequests
	case waerr.KindTemplateNotApproved, waerr.KindPreflightFailed,
		waerr.KindWorkspaceNotConfigured, waerr.KindPhoneNotConfigured,
		waerr.KindWorkspaceUnsafe, waerr.KindQualityRed, waerr.KindNo24hWindow:
		return fasthttp.StatusUnprocessableEntity
	default:
		return fasthttp.StatusInternalServerError
	}
}

// sendError maps a service error to an error envelope. Tagged errors
// carry their kind as the envelope error type; anything else is a 500.
func (a *App) sendError(r *fastglue.Request, err error, fallback string) error {
	var e *waerr.Error
	if errors.As(err, &e) {
		return r.SendErrorEnvelope(statusFor(e.Kind), e.Message, nil, fastglue.ErrorType(e.Kind))
	}
	a.Log.Error(fallback, "error", err)
	return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, fallback, nil, "")
}

// HealthCheck returns server health status
func (a *App) HealthCheck(r *fastglue.Request) error {
	return r.SendEnvelope(map[string]string{
		"status":  "ok",
		"service": "waveline",
	})
}

// ReadyCheck returns server readiness status
func (a *App) ReadyCheck(r *fastglue.Request) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Database connection error", nil, "")
	}
	if err := sqlDB.Ping(); err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Database ping failed", nil, "")
	}

	if err := a.Redis.Ping(r.RequestCtx).Err(); err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Redis connection error", nil, "")
	}

	return r.SendEnvelope(map[string]string{
		"status": "ready",
	})
}
