package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/playquickdraw/backend/internal/duel"
)

// duelError maps a coordinator failure onto the wire taxonomy. Input errors
// are client-fixable, state conflicts mean "re-fetch and re-decide", and
// exhausted CAS retries are retryable contention rather than a true failure.
func duelError(c *gin.Context, err error) {
	type mapping struct {
		status int
		code   string
	}
	var m mapping
	switch {
	case errors.Is(err, duel.ErrBadInput):
		m = mapping{http.StatusBadRequest, "BAD_INPUT"}
	case errors.Is(err, duel.ErrBadStake):
		m = mapping{http.StatusBadRequest, "BAD_STAKE"}
	case errors.Is(err, duel.ErrNotFound):
		m = mapping{http.StatusNotFound, "NOT_FOUND"}
	case errors.Is(err, duel.ErrAlreadyExists):
		m = mapping{http.StatusConflict, "ALREADY_EXISTS"}
	case errors.Is(err, duel.ErrAlreadyJoined):
		m = mapping{http.StatusConflict, "ALREADY_JOINED"}
	case errors.Is(err, duel.ErrCannotJoinOwn):
		m = mapping{http.StatusConflict, "CANNOT_JOIN_OWN"}
	case errors.Is(err, duel.ErrCreatorNotPaid):
		m = mapping{http.StatusConflict, "CREATOR_NOT_PAID"}
	case errors.Is(err, duel.ErrNotJoinable):
		m = mapping{http.StatusConflict, "NOT_JOINABLE"}
	case errors.Is(err, duel.ErrNotJoined):
		m = mapping{http.StatusConflict, "NOT_JOINED"}
	case errors.Is(err, duel.ErrNotAPlayer):
		m = mapping{http.StatusForbidden, "NOT_A_PLAYER"}
	case errors.Is(err, duel.ErrNotStarted):
		m = mapping{http.StatusConflict, "NOT_STARTED"}
	case errors.Is(err, duel.ErrNotPaid):
		m = mapping{http.StatusConflict, "NOT_PAID"}
	case errors.Is(err, duel.ErrPaymentUnverified):
		m = mapping{http.StatusPaymentRequired, "PAYMENT_UNVERIFIED"}
	case errors.Is(err, duel.ErrNotFinished):
		m = mapping{http.StatusConflict, "NOT_FINISHED"}
	case errors.Is(err, duel.ErrNoWinner):
		m = mapping{http.StatusConflict, "NO_WINNER"}
	case errors.Is(err, duel.ErrWinnerAccountMissing):
		m = mapping{http.StatusConflict, "WINNER_ACCOUNT_MISSING"}
	case errors.Is(err, duel.ErrRetriesExhausted):
		m = mapping{http.StatusServiceUnavailable, "CONTENTION"}
	default:
		log.Printf("[DUEL] Unexpected error: %v", err)
		m = mapping{http.StatusInternalServerError, "INTERNAL"}
	}
	c.JSON(m.status, gin.H{"error": m.code})
}

func serverNow() int64 {
	return time.Now().UnixMilli()
}

// CreateMatch opens a new match with the creator's deposit attached
func CreateMatch(coord *duel.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ID         string `json:"id" binding:"required"`
			Account    string `json:"account" binding:"required"`
			Stake      int64  `json:"stake" binding:"required"`
			FeeBps     int    `json:"fee_bps"`
			PaymentRef string `json:"payment_ref" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_INPUT"})
			return
		}
		m, err := coord.Create(c.Request.Context(), req.ID, req.Account, req.Stake, req.FeeBps, req.PaymentRef)
		if err != nil {
			duelError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"match": m, "serverNow": serverNow()})
	}
}

// JoinMatch attaches the opponent and their deposit
func JoinMatch(coord *duel.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ID         string `json:"id" binding:"required"`
			Account    string `json:"account" binding:"required"`
			PaymentRef string `json:"payment_ref" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_INPUT"})
			return
		}
		m, err := coord.Join(c.Request.Context(), req.ID, req.Account, req.PaymentRef)
		if err != nil {
			duelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"match": m, "serverNow": serverNow()})
	}
}

// SetReady flips the caller's ready flag
func SetReady(coord *duel.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ID      string `json:"id" binding:"required"`
			Account string `json:"account" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_INPUT"})
			return
		}
		m, err := coord.SetReady(c.Request.Context(), req.ID, req.Account)
		if err != nil {
			duelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"match": m, "serverNow": serverNow()})
	}
}

// Click arbitrates a reaction click. click_at is the client's own clock and
// is advisory only; the server's receipt time decides.
func Click(coord *duel.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ID      string `json:"id" binding:"required"`
			Account string `json:"account" binding:"required"`
			ClickAt int64  `json:"click_at"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_INPUT"})
			return
		}
		m, err := coord.Click(c.Request.Context(), req.ID, req.Account, req.ClickAt)
		if err != nil {
			duelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"match": m, "serverNow": serverNow()})
	}
}

// GetMatch returns one match with time-driven transitions applied
func GetMatch(coord *duel.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := coord.Fetch(c.Request.Context(), c.Param("id"))
		if err != nil {
			duelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"match": m, "serverNow": serverNow()})
	}
}

// ListOpen returns joinable matches, newest first
func ListOpen(coord *duel.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		matches, err := coord.ListOpen(c.Request.Context(), limitQuery(c, 0, 100))
		if err != nil {
			duelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches, "serverNow": serverNow()})
	}
}

// GetHistory returns an account's recent matches, newest first
func GetHistory(coord *duel.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		matches, err := coord.History(c.Request.Context(), c.Param("account"), limitQuery(c, 20, 50))
		if err != nil {
			duelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches, "serverNow": serverNow()})
	}
}

// SettleMatch triggers exactly-once settlement of a finished match. Lock
// contention comes back as locked=true with HTTP 200: the caller just polls
// again.
func SettleMatch(settler *duel.Settler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ID string `json:"id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_INPUT"})
			return
		}
		res, err := settler.Settle(c.Request.Context(), req.ID)
		if err != nil {
			duelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"match":          res.Match,
			"locked":         res.Locked,
			"alreadySettled": res.AlreadySettled,
			"serverNow":      serverNow(),
		})
	}
}
