package mw

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/store"
)

// UserHeader carries the id of the user authenticated by the upstream proxy.
const UserHeader = "X-User-ID"

const userKey = "mw.user"

// UserLookup resolves user ids.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// Identity loads the calling user from UserHeader and rejects requests
// without a known one.
func Identity(users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(UserHeader), 10, 64)
		if err != nil {
			abortUnauthorized(c)
			return
		}
		u, err := users.GetUser(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			abortUnauthorized(c)
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
				"type": "INTERNAL", "message": errs.Message(err),
			}})
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
		"type": "UNAUTHORIZED", "message": "Authentication required",
	}})
}

// CurrentUser returns the user stored by Identity, or nil.
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}
