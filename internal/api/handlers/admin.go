package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jmoiron/sqlx"
	"github.com/playquickdraw/backend/internal/admin"
	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/ledger"
)

// AdminLogin validates operator credentials and issues a session JWT
func AdminLogin(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Token    string `json:"token" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		username := strings.TrimSpace(req.Username)
		acc, err := admin.ValidateAdminCredentials(db, username, req.Token)
		if err != nil {
			log.Printf("[ADMIN] Login failed for username %s: %v", username, err)
			admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "login", false)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		exp := time.Now().Add(time.Duration(cfg.SessionTimeoutMin) * time.Minute)
		claims := jwt.MapClaims{
			"sub": acc.Username,
			"exp": exp.Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			log.Printf("[ADMIN] Failed to sign session token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
			return
		}

		admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "login", true)
		c.JSON(http.StatusOK, gin.H{"token": signed, "expires_at": exp.Unix()})
	}
}

// AdminAuth guards admin routes with the session JWT
func AdminAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing session token"})
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		parsed, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session token"})
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session token"})
			return
		}
		if sub, ok := claims["sub"].(string); ok {
			c.Set("admin_username", sub)
		}
		c.Next()
	}
}

// AdminListSettlements returns recent payout ledger rows
func AdminListSettlements(db *sqlx.DB, l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := l.Recent(c.Request.Context(), limitQuery(c, 100, 500), offsetQuery(c))
		if err != nil {
			log.Printf("[ADMIN] Failed to list settlements: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list settlements"})
			return
		}
		admin.LogAdminAction(db, c.GetString("admin_username"), c.ClientIP(), c.FullPath(), "list_settlements", true)
		c.JSON(http.StatusOK, gin.H{"settlements": rows})
	}
}

// AdminGetSettlement returns the ledger row for one match
func AdminGetSettlement(db *sqlx.DB, l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, err := l.ByMatch(c.Request.Context(), strings.ToUpper(c.Param("id")))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Settlement not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settlement": row})
	}
}

// AdminListAudit returns the admin action audit trail
func AdminListAudit(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := admin.GetAdminAuditLogs(db, limitQuery(c, 100, 500), offsetQuery(c))
		if err != nil {
			log.Printf("[ADMIN] Failed to list audit logs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"audit": logs})
	}
}
