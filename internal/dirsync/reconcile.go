package dirsync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dhawalhost/dirsync/internal/connection"
	"github.com/dhawalhost/dirsync/internal/directory"
	"github.com/dhawalhost/dirsync/internal/provider"
)

// run carries the state for one sync pass over a single connection. The
// connection snapshot is taken once at claim time; config edits made while a
// run is in flight apply to the next run.
type run struct {
	conn   connection.Connection
	client provider.Client
	mapper *mapper
	store  Store
	dir    directory.Store
	logger *zap.Logger
	result *SyncResult

	// groupMappings caches external group id -> internal group id for
	// membership resolution. Loaded once, maintained as groups are
	// created and deleted during the pass.
	groupMappings map[string]string
}

func (r *run) recordError(kind EntityType, externalID, operation string, err error) {
	r.result.Errors = append(r.result.Errors, SyncError{
		Type:       kind,
		ExternalID: externalID,
		Operation:  operation,
		Message:    err.Error(),
	})
	r.logger.Warn("Sync entity failed",
		zap.String("entity", string(kind)),
		zap.String("external_id", externalID),
		zap.String("operation", operation),
		zap.Error(err))
}

func (r *run) loadGroupMappings(ctx context.Context) error {
	if r.groupMappings != nil {
		return nil
	}
	mappings, err := r.store.ListGroupMappings(ctx, r.conn.ID)
	if err != nil {
		return fmt.Errorf("list group mappings: %w", err)
	}
	r.groupMappings = mappings
	return nil
}

// syncGroups reconciles the full group snapshot. Groups the provider no
// longer reports are removed outright together with their mapping rows.
func (r *run) syncGroups(ctx context.Context, groups []provider.Group) error {
	if err := r.loadGroupMappings(ctx); err != nil {
		return err
	}

	processed := make(map[string]bool, len(groups))
	for _, group := range groups {
		processed[group.ExternalID] = true
		r.upsertGroup(ctx, group)
	}

	for externalID, groupID := range r.groupMappings {
		if processed[externalID] {
			continue
		}
		if err := r.deleteGroup(ctx, externalID, groupID); err != nil {
			r.recordError(EntityGroup, externalID, "delete", err)
			continue
		}
		r.result.GroupsDeleted++
	}
	return nil
}

func (r *run) upsertGroup(ctx context.Context, group provider.Group) {
	groupID, mapped := r.groupMappings[group.ExternalID]
	if mapped {
		err := r.dir.UpdateGroup(ctx, r.conn.OrgID, groupID, group.Name, group.Description)
		if err != nil {
			r.recordError(EntityGroup, group.ExternalID, "update", err)
			return
		}
		r.result.GroupsUpdated++
		return
	}

	groupID, err := r.dir.CreateGroup(ctx, r.conn.OrgID, group.Name, group.Description)
	if err != nil {
		r.recordError(EntityGroup, group.ExternalID, "create", err)
		return
	}
	if err := r.store.CreateGroupMapping(ctx, r.conn.ID, group.ExternalID, groupID); err != nil {
		r.recordError(EntityGroup, group.ExternalID, "create", err)
		return
	}
	r.groupMappings[group.ExternalID] = groupID
	r.result.GroupsCreated++
}

func (r *run) deleteGroup(ctx context.Context, externalID, groupID string) error {
	err := r.dir.DeleteGroup(ctx, r.conn.OrgID, groupID)
	if err != nil && !errors.Is(err, directory.ErrGroupNotFound) {
		return err
	}
	if err := r.store.DeleteGroupMapping(ctx, r.conn.ID, externalID); err != nil {
		return err
	}
	delete(r.groupMappings, externalID)
	return nil
}

// syncUsers reconciles the full user snapshot. Mapped absentees are
// deactivated only when the connection opted into deprovisioning; their
// mapping rows always survive so a returning user reactivates in place.
func (r *run) syncUsers(ctx context.Context, users []provider.User) error {
	existing, err := r.store.ListUserMappings(ctx, r.conn.ID)
	if err != nil {
		return fmt.Errorf("list user mappings: %w", err)
	}

	processed := make(map[string]bool, len(users))
	for _, user := range users {
		processed[user.ExternalID] = true
		r.upsertUser(ctx, user, existing[user.ExternalID])
	}

	if !r.conn.Config.AutoDeprovision {
		return nil
	}
	for externalID, userID := range existing {
		if processed[externalID] {
			continue
		}
		if err := r.dir.DeactivateUser(ctx, r.conn.OrgID, userID); err != nil {
			r.recordError(EntityUser, externalID, "deactivate", err)
			continue
		}
		r.result.UsersDeactivated++
	}
	return nil
}

// upsertUser writes one provider user into the internal store. userID is the
// mapped internal id or "" when no mapping exists yet.
func (r *run) upsertUser(ctx context.Context, user provider.User, userID string) {
	attrs := r.userAttributes(user)

	if userID != "" {
		if err := r.dir.UpdateUser(ctx, r.conn.OrgID, userID, attrs); err != nil {
			r.recordError(EntityUser, user.ExternalID, "update", err)
			return
		}
		r.result.UsersUpdated++
	} else {
		if !r.conn.Config.AutoProvision {
			return
		}
		if r.conn.Config.DefaultRole != "" {
			if _, set := attrs["role"]; !set {
				attrs["role"] = r.conn.Config.DefaultRole
			}
		}
		created, err := r.dir.CreateUser(ctx, r.conn.OrgID, attrs)
		if err != nil {
			r.recordError(EntityUser, user.ExternalID, "create", err)
			return
		}
		if err := r.store.CreateUserMapping(ctx, r.conn.ID, user.ExternalID, created); err != nil {
			r.recordError(EntityUser, user.ExternalID, "create", err)
			return
		}
		userID = created
		r.result.UsersCreated++
	}

	if r.conn.Config.SyncGroups {
		if err := r.syncUserGroups(ctx, userID, user); err != nil {
			r.recordError(EntityUser, user.ExternalID, "membership", err)
		}
	}
}

// userAttributes builds the column map for one user: the provider's common
// fields first, then mapping rule outputs on top. Rule targets outside the
// writable column set are dropped with a warning instead of failing the
// entity.
func (r *run) userAttributes(user provider.User) map[string]interface{} {
	attrs := map[string]interface{}{
		"is_active": user.Active,
	}
	base := map[string]string{
		"email":        user.Email,
		"first_name":   user.FirstName,
		"last_name":    user.LastName,
		"display_name": user.DisplayName,
		"job_title":    user.JobTitle,
		"department":   user.Department,
		"manager":      user.Manager,
		"phone":        user.Phone,
		"avatar_url":   user.Avatar,
	}
	for col, value := range base {
		if value != "" {
			attrs[col] = value
		}
	}

	for col, value := range r.mapper.apply(user.Attributes) {
		if !directory.IsUserColumn(col) {
			r.logger.Warn("Attribute mapping targets unknown column",
				zap.String("target", col))
			continue
		}
		attrs[col] = value
	}
	return attrs
}

// syncUserGroups replaces the user's memberships with the mapped subset of
// the provider's group list. External ids without a mapping are dropped
// silently; they belong to groups outside the synced scope.
func (r *run) syncUserGroups(ctx context.Context, userID string, user provider.User) error {
	if err := r.loadGroupMappings(ctx); err != nil {
		return err
	}

	groupIDs := make([]string, 0, len(user.Groups))
	for _, externalID := range user.Groups {
		groupID, ok := r.groupMappings[externalID]
		if !ok {
			r.logger.Warn("Skipping unmapped group membership",
				zap.String("user_external_id", user.ExternalID),
				zap.String("group_external_id", externalID))
			continue
		}
		groupIDs = append(groupIDs, groupID)
	}

	return r.dir.ReplaceUserGroups(ctx, userID, groupIDs)
}

// applyUserChange handles one user entry from a delta feed. Deletes respect
// the same deprovisioning gate as absence in a full run.
func (r *run) applyUserChange(ctx context.Context, change provider.UserChange) {
	switch change.Operation {
	case provider.OpDelete:
		userID, err := r.store.GetUserMapping(ctx, r.conn.ID, change.ExternalID)
		if errors.Is(err, ErrMappingNotFound) {
			return
		}
		if err != nil {
			r.recordError(EntityUser, change.ExternalID, "deactivate", err)
			return
		}
		if !r.conn.Config.AutoDeprovision {
			return
		}
		if err := r.dir.DeactivateUser(ctx, r.conn.OrgID, userID); err != nil {
			r.recordError(EntityUser, change.ExternalID, "deactivate", err)
			return
		}
		r.result.UsersDeactivated++

	case provider.OpCreate, provider.OpUpdate:
		if change.User == nil {
			r.recordError(EntityUser, change.ExternalID, string(change.Operation),
				errors.New("change carries no user record"))
			return
		}
		userID, err := r.store.GetUserMapping(ctx, r.conn.ID, change.ExternalID)
		if err != nil && !errors.Is(err, ErrMappingNotFound) {
			r.recordError(EntityUser, change.ExternalID, string(change.Operation), err)
			return
		}
		r.upsertUser(ctx, *change.User, userID)

	default:
		r.recordError(EntityUser, change.ExternalID, string(change.Operation),
			fmt.Errorf("unknown delta operation %q", change.Operation))
	}
}

// applyGroupChange handles one group entry from a delta feed.
func (r *run) applyGroupChange(ctx context.Context, change provider.GroupChange) {
	if err := r.loadGroupMappings(ctx); err != nil {
		r.recordError(EntityGroup, change.ExternalID, string(change.Operation), err)
		return
	}

	switch change.Operation {
	case provider.OpDelete:
		groupID, ok := r.groupMappings[change.ExternalID]
		if !ok {
			return
		}
		if err := r.deleteGroup(ctx, change.ExternalID, groupID); err != nil {
			r.recordError(EntityGroup, change.ExternalID, "delete", err)
			return
		}
		r.result.GroupsDeleted++

	case provider.OpCreate, provider.OpUpdate:
		if change.Group == nil {
			r.recordError(EntityGroup, change.ExternalID, string(change.Operation),
				errors.New("change carries no group record"))
			return
		}
		r.upsertGroup(ctx, *change.Group)

	default:
		r.recordError(EntityGroup, change.ExternalID, string(change.Operation),
			fmt.Errorf("unknown delta operation %q", change.Operation))
	}
}
