// Package router maps an inbound phone-number id to the owning
// workspace, fronted by a short-TTL positive-and-negative Redis cache,
// and enforces the outbound phone-assignment gate.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/waerr"
)

const (
	cacheKeyPrefix = "router:phone:"
	// negativeMarker caches a miss so repeated unknown ids skip the
	// database.
	negativeMarker = "__none__"
)

// ErrUnknownPhone is returned when no workspace owns the phone id.
var ErrUnknownPhone = waerr.New(waerr.KindWorkspaceNotConfigured, "no workspace owns this phone number id")

// cacheEntry wraps the workspace for caching. AccessToken is json:"-"
// on the model, so it must travel separately or resolved workspaces
// would come back without credentials.
type cacheEntry struct {
	Workspace   models.Workspace `json:"workspace"`
	AccessToken string           `json:"access_token"`
}

// Router resolves phone-number ids to workspaces.
type Router struct {
	DB    *gorm.DB
	Redis *redis.Client
	Log   logf.Logger
	TTL   time.Duration
}

// New creates a Router with the configured cache TTL.
func New(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log logf.Logger) *Router {
	return &Router{
		DB:    db,
		Redis: rdb,
		Log:   log,
		TTL:   time.Duration(cfg.RateLimit.RouterCacheSecs) * time.Second,
	}
}

// Resolve returns the workspace owning phoneNumberID. Misses are cached
// negatively for the same TTL as hits.
func (r *Router) Resolve(ctx context.Context, phoneNumberID string) (*models.Workspace, error) {
	if phoneNumberID == "" {
		return nil, ErrUnknownPhone
	}

	key := cacheKeyPrefix + phoneNumberID
	if cached, err := r.Redis.Get(ctx, key).Result(); err == nil {
		if cached == negativeMarker {
			return nil, ErrUnknownPhone
		}
		var entry cacheEntry
		if err := json.Unmarshal([]byte(cached), &entry); err == nil {
			entry.Workspace.AccessToken = entry.AccessToken
			return &entry.Workspace, nil
		}
		// Corrupt cache entry, fall through to the database
		r.Redis.Del(ctx, key)
	}

	var ws models.Workspace
	err := r.DB.Where("phone_number_id = ?", phoneNumberID).First(&ws).Error
	if err == gorm.ErrRecordNotFound {
		r.Redis.Set(ctx, key, negativeMarker, r.TTL)
		return nil, ErrUnknownPhone
	}
	if err != nil {
		return nil, fmt.Errorf("workspace lookup failed: %w", err)
	}

	if data, err := json.Marshal(&cacheEntry{Workspace: ws, AccessToken: ws.AccessToken}); err == nil {
		r.Redis.Set(ctx, key, data, r.TTL)
	}
	return &ws, nil
}

// EnsureSendable refuses outbound sends for a workspace whose phone is
// unassigned or disconnected.
func (r *Router) EnsureSendable(ws *models.Workspace) error {
	if ws.PhoneNumberID == "" {
		return waerr.New(waerr.KindPhoneNotConfigured, "workspace has no phone number assigned")
	}
	if ws.PhoneStatus == models.PhoneDisconnected {
		return waerr.New(waerr.KindPhoneNotConfigured, "workspace phone is disconnected")
	}
	return nil
}

// AssignPhone binds a phone-number id to the workspace and invalidates
// the cache for both the new and any previous id.
func (r *Router) AssignPhone(ctx context.Context, workspaceID uuid.UUID, phoneNumberID, businessAccountID string) error {
	var ws models.Workspace
	if err := r.DB.First(&ws, "id = ?", workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return waerr.New(waerr.KindWorkspaceNotConfigured, "workspace not found")
		}
		return err
	}

	old := ws.PhoneNumberID
	updates := map[string]interface{}{
		"phone_number_id": phoneNumberID,
		"phone_status":    models.PhoneConnected,
	}
	if businessAccountID != "" {
		updates["business_account_id"] = businessAccountID
	}
	if err := r.DB.Model(&ws).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to assign phone: %w", err)
	}

	r.invalidate(ctx, old, phoneNumberID)
	r.Log.Info("Phone assigned", "workspace_id", workspaceID, "phone_number_id", phoneNumberID)
	return nil
}

// UnassignPhone removes the workspace's phone binding.
func (r *Router) UnassignPhone(ctx context.Context, workspaceID uuid.UUID) error {
	var ws models.Workspace
	if err := r.DB.First(&ws, "id = ?", workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return waerr.New(waerr.KindWorkspaceNotConfigured, "workspace not found")
		}
		return err
	}

	old := ws.PhoneNumberID
	err := r.DB.Model(&ws).Updates(map[string]interface{}{
		"phone_number_id": "",
		"phone_status":    models.PhoneDisconnected,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to unassign phone: %w", err)
	}

	r.invalidate(ctx, old)
	r.Log.Info("Phone unassigned", "workspace_id", workspaceID, "phone_number_id", old)
	return nil
}

// SyncStatus writes provider-reported phone health onto the workspace
// and invalidates the cache.
func (r *Router) SyncStatus(ctx context.Context, workspaceID uuid.UUID, qualityRating, messagingTier, phoneStatus string) error {
	var ws models.Workspace
	if err := r.DB.First(&ws, "id = ?", workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return waerr.New(waerr.KindWorkspaceNotConfigured, "workspace not found")
		}
		return err
	}

	updates := map[string]interface{}{}
	if qualityRating != "" {
		updates["quality_rating"] = qualityRating
	}
	if messagingTier != "" {
		updates["messaging_tier"] = messagingTier
	}
	if phoneStatus != "" {
		updates["phone_status"] = phoneStatus
	}
	if len(updates) == 0 {
		return nil
	}
	if err := r.DB.Model(&ws).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to sync status: %w", err)
	}

	r.invalidate(ctx, ws.PhoneNumberID)
	return nil
}

// Invalidate drops the cache entry for a phone id. The webhook ingester
// calls this after credential or status mutations.
func (r *Router) Invalidate(ctx context.Context, phoneNumberID string) {
	r.invalidate(ctx, phoneNumberID)
}

func (r *Router) invalidate(ctx context.Context, phoneNumberIDs ...string) {
	for _, id := range phoneNumberIDs {
		if id != "" {
			r.Redis.Del(ctx, cacheKeyPrefix+id)
		}
	}
}
