package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/roach88/evsync/internal/authz"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/remote"
)

const actorKey = "actor"

// Router exposes l over HTTP. When secret is non-nil every request must
// carry a valid bearer token, and the token's subject becomes the actor of
// created actions.
func Router(l *Ledger, secret []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if secret != nil {
		r.Use(authMiddleware(secret))
	}

	r.POST("/events", func(c *gin.Context) { createEvent(c, l) })
	r.GET("/events/:id", func(c *gin.Context) { getEvent(c, l) })
	r.POST("/events/:id/:action", func(c *gin.Context) { act(c, l) })
	r.POST("/search", func(c *gin.Context) { search(c, l) })
	r.GET("/drafts", func(c *gin.Context) { listDrafts(c, l) })
	r.POST("/drafts", func(c *gin.Context) { createDraft(c, l) })
	return r
}

func authMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := authz.ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(actorKey, claims.Actor())
		c.Next()
	}
}

func actor(c *gin.Context) event.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(event.Actor); ok {
			return a
		}
	}
	return event.Actor{}
}

func createEvent(c *gin.Context, l *Ledger) {
	var req remote.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidRequest(err))
		return
	}
	req.Actor = actor(c)

	doc, err := l.CreateEvent(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func getEvent(c *gin.Context, l *Ledger) {
	doc, err := l.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func act(c *gin.Context, l *Ledger) {
	action, ok := event.ParseActionType(c.Param("action"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown action " + c.Param("action")})
		return
	}

	var req remote.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidRequest(err))
		return
	}
	req.EventID = c.Param("id")
	req.Action = action
	req.Actor = actor(c)

	doc, err := l.Act(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func search(c *gin.Context, l *Ledger) {
	var req remote.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidRequest(err))
		return
	}
	page, err := l.Search(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func listDrafts(c *gin.Context, l *Ledger) {
	drafts, err := l.ListDrafts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, drafts)
}

func createDraft(c *gin.Context, l *Ledger) {
	var d event.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		writeError(c, invalidRequest(err))
		return
	}
	out, err := l.CreateDraft(c.Request.Context(), d)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func writeError(c *gin.Context, err error) {
	var se *remote.StatusError
	if errors.As(err, &se) {
		c.JSON(se.Code, gin.H{"error": se.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
