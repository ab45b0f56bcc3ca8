// Package syncid maps local users to the identifiers the remote grading
// service knows them by.
package syncid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/models"
	"github.com/shrimpsizemoose/tasksync/internal/store"
)

const (
	DefaultPrefix = "GSSO"
	delimiter     = "_"
	hashLength    = 40
)

var ErrUnresolvable = errors.New("sync id cannot be resolved to a user")

// Scope is the (org, grade pool) tuple a sync id lives in. Pool is empty for
// shared pools.
type Scope struct {
	Org  string
	Pool string
}

// ScopeFor derives the scope of a task served by the given org.
func ScopeFor(org string, task *models.Task) Scope {
	scope := Scope{Org: org}
	if task.IsPrivatePool() {
		scope.Pool = fmt.Sprintf("p%d", task.CourseID)
	}
	return scope
}

type Identity struct {
	store  store.SyncIDStore
	prefix string
}

func NewIdentity(store store.SyncIDStore, prefix string) *Identity {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Identity{store: store, prefix: prefix}
}

// SyncID returns the identifier for userID in scope. With hashing enabled the
// hash is created on first use and reused afterwards.
func (i *Identity) SyncID(ctx context.Context, userID int64, hashed bool, scope Scope) (string, error) {
	if !hashed {
		return i.compose(scope.Org, strconv.FormatInt(userID, 10)), nil
	}

	hash, err := i.store.FindSyncHash(ctx, userID, scope.Org, scope.Pool)
	if err != nil {
		return "", err
	}
	if hash != "" {
		return i.compose(scope.Org, hash), nil
	}

	mapping := &models.SyncIDMapping{
		UserID: userID,
		Hash:   newHash(userID) + scope.Pool,
		Org:    scope.Org,
		Pool:   scope.Pool,
	}
	if err := i.store.InsertSyncHash(ctx, mapping); err != nil {
		return "", err
	}

	// a concurrent caller may have won the insert
	hash, err = i.store.FindSyncHash(ctx, userID, scope.Org, scope.Pool)
	if err != nil {
		return "", err
	}
	if hash == "" {
		return "", fmt.Errorf("sync hash for user %d vanished after insert", userID)
	}
	logger.Debug.Printf("Created sync hash for user %d in %s/%s", userID, scope.Org, scope.Pool)
	return i.compose(scope.Org, hash), nil
}

// UserID reverses SyncID for the same scope.
func (i *Identity) UserID(ctx context.Context, syncID string, hashed bool, scope Scope) (int64, error) {
	pos := strings.LastIndex(syncID, delimiter)
	if pos < 0 || pos == len(syncID)-1 {
		return 0, fmt.Errorf("%w: malformed %q", ErrUnresolvable, syncID)
	}
	token := syncID[pos+1:]

	if !hashed {
		userID, err := strconv.ParseInt(token, 10, 64)
		if err != nil || userID <= 0 {
			return 0, fmt.Errorf("%w: %q is not a user id", ErrUnresolvable, syncID)
		}
		return userID, nil
	}

	mapping, err := i.store.FindSyncHashOwner(ctx, token)
	if err != nil {
		return 0, err
	}
	if mapping == nil {
		return 0, fmt.Errorf("%w: unknown hash in %q", ErrUnresolvable, syncID)
	}
	if mapping.Org != scope.Org || mapping.Pool != scope.Pool {
		return 0, fmt.Errorf("%w: %q belongs to %s/%s", ErrUnresolvable, syncID, mapping.Org, mapping.Pool)
	}
	return mapping.UserID, nil
}

func (i *Identity) compose(org, token string) string {
	return i.prefix + delimiter + org + delimiter + token
}

func newHash(userID int64) string {
	sum := sha256.Sum256([]byte(uuid.NewString() + ":" + strconv.FormatInt(userID, 10)))
	return hex.EncodeToString(sum[:])[:hashLength]
}
