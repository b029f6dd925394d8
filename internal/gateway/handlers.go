package gateway

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/punchclock/engine/internal/channel"
	"github.com/punchclock/engine/internal/directory"
	"github.com/punchclock/engine/internal/payroll"
	"github.com/punchclock/engine/internal/signer"
)

// status maps engine errors onto HTTP statuses. Every engine failure is
// recoverable by the caller, so nothing here maps to a 5xx except unknown
// errors.
func status(err error) int {
	switch {
	case errors.Is(err, payroll.ErrUnauthorized),
		errors.Is(err, directory.ErrUnauthorized),
		errors.Is(err, channel.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, directory.ErrNotFound),
		errors.Is(err, payroll.ErrNotEmployed),
		errors.Is(err, payroll.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrDuplicateEmployee),
		errors.Is(err, payroll.ErrAlreadyPunchedIn),
		errors.Is(err, channel.ErrChannelClosed):
		return http.StatusConflict
	case errors.Is(err, payroll.ErrInvalidAmount),
		errors.Is(err, directory.ErrInvalidTerms),
		errors.Is(err, channel.ErrInvalidParameters),
		errors.Is(err, signer.ErrMalformedSignature),
		errors.Is(err, signer.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, payroll.ErrInsufficientFunds),
		errors.Is(err, payroll.ErrClaimExceedsTimeCap),
		errors.Is(err, channel.ErrClaimExceedsReservation),
		errors.Is(err, channel.ErrHashMismatch),
		errors.Is(err, channel.ErrUnauthorizedSigner):
		return http.StatusUnprocessableEntity
	case errors.Is(err, channel.ErrNotYetExpired):
		return http.StatusTooEarly
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(status(err), gin.H{"error": err.Error()})
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, payroll.ErrInvalidAmount
	}
	return amount, nil
}

func parseIdentityParam(c *gin.Context) (signer.Identity, bool) {
	identity, err := signer.ParseIdentity(c.Param("identity"))
	if err != nil {
		fail(c, err)
		return signer.Identity{}, false
	}
	return identity, true
}

func (g *Gateway) deposit(c *gin.Context) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	if err := g.engine.Deposit(c.Request.Context(), amount); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": g.engine.Balance().String()})
}

func (g *Gateway) withdraw(c *gin.Context) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	if err := g.engine.Withdraw(c.Request.Context(), g.engine.Owner(), amount); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": g.engine.Balance().String()})
}

func (g *Gateway) balance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"balance":   g.engine.Balance().String(),
		"available": g.engine.Available().String(),
	})
}

func (g *Gateway) addToWhitelist(c *gin.Context) {
	var req struct {
		Identity string `json:"identity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	identity, err := signer.ParseIdentity(req.Identity)
	if err != nil {
		fail(c, err)
		return
	}

	if err := g.engine.AddToWhitelist(c.Request.Context(), g.engine.Owner(), identity); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"identity": identity.String()})
}

func (g *Gateway) hireEmployee(c *gin.Context) {
	var req struct {
		Identity          string `json:"identity"`
		SalaryPerSecond   string `json:"salary_per_second"`
		MaxSessionSeconds int64  `json:"max_session_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	identity, err := signer.ParseIdentity(req.Identity)
	if err != nil {
		fail(c, err)
		return
	}
	rate, err := decimal.NewFromString(req.SalaryPerSecond)
	if err != nil {
		fail(c, directory.ErrInvalidTerms)
		return
	}

	id, err := g.engine.HireEmployee(c.Request.Context(), g.engine.Owner(), identity, rate, req.MaxSessionSeconds)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"record_id": id})
}

func (g *Gateway) terminateEmployee(c *gin.Context) {
	identity, ok := parseIdentityParam(c)
	if !ok {
		return
	}

	if err := g.engine.TerminateEmployee(c.Request.Context(), g.engine.Owner(), identity); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"identity": identity.String()})
}

func (g *Gateway) updateSalary(c *gin.Context) {
	identity, ok := parseIdentityParam(c)
	if !ok {
		return
	}

	var req struct {
		SalaryPerSecond string `json:"salary_per_second"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	rate, err := decimal.NewFromString(req.SalaryPerSecond)
	if err != nil {
		fail(c, directory.ErrInvalidTerms)
		return
	}

	if err := g.engine.UpdateSalaryRate(c.Request.Context(), g.engine.Owner(), identity, rate); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"identity": identity.String()})
}

func (g *Gateway) employeeCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": g.engine.EmployeeCount()})
}

func (g *Gateway) punchIn(c *gin.Context) {
	var req struct {
		Identity string `json:"identity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	identity, err := signer.ParseIdentity(req.Identity)
	if err != nil {
		fail(c, err)
		return
	}

	channelID, err := g.engine.PunchIn(c.Request.Context(), identity)
	if err != nil {
		fail(c, err)
		return
	}

	g.invalidateSession(c, identity)
	c.JSON(http.StatusCreated, gin.H{"channel_id": channelID.String()})
}

func (g *Gateway) sessionStatus(c *gin.Context) {
	identity, ok := parseIdentityParam(c)
	if !ok {
		return
	}

	if summary, hit := g.cachedSession(c, identity); hit {
		c.JSON(http.StatusOK, summary)
		return
	}

	info, err := g.engine.Session(identity)
	if err != nil {
		if errors.Is(err, payroll.ErrNoActiveSession) {
			c.JSON(http.StatusOK, SessionSummary{Identity: identity.String(), PunchedIn: false})
			return
		}
		fail(c, err)
		return
	}

	summary := SessionSummary{
		Identity:     identity.String(),
		PunchedIn:    true,
		ChannelID:    info.ChannelID.String(),
		PunchInAt:    info.PunchInAt,
		ExpiresAt:    info.ExpiresAt,
		Reserve:      info.Reserve.String(),
		MaxClaimable: info.MaxClaimable.String(),
	}
	g.storeSession(c, identity, summary)

	c.JSON(http.StatusOK, summary)
}

func (g *Gateway) punchOut(c *gin.Context) {
	identity, ok := parseIdentityParam(c)
	if !ok {
		return
	}

	var req struct {
		Hash      string `json:"hash"`
		Signature string `json:"signature"`
		Amount    string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	digest, err := parseDigest(req.Hash)
	if err != nil {
		fail(c, err)
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		fail(c, signer.ErrMalformedSignature)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		fail(c, err)
		return
	}

	paid, err := g.engine.PunchOut(c.Request.Context(), identity, digest, sig, amount)
	if err != nil {
		fail(c, err)
		return
	}

	g.invalidateSession(c, identity)
	c.JSON(http.StatusOK, gin.H{
		"paid":    paid.String(),
		"balance": g.engine.Balance().String(),
	})
}

func (g *Gateway) forceTimeout(c *gin.Context) {
	identity, ok := parseIdentityParam(c)
	if !ok {
		return
	}

	if err := g.engine.ForceTimeout(c.Request.Context(), identity, g.engine.Owner()); err != nil {
		fail(c, err)
		return
	}

	g.invalidateSession(c, identity)
	c.JSON(http.StatusOK, gin.H{"identity": identity.String()})
}

func parseDigest(s string) ([32]byte, error) {
	var digest [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 32 {
		return digest, channel.ErrHashMismatch
	}
	copy(digest[:], raw)
	return digest, nil
}
