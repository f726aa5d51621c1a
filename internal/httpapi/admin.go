package httpapi

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/sdxdlgz/kiroproxy/internal/kiroauth"
	"github.com/sdxdlgz/kiroproxy/internal/logging"
	"github.com/sdxdlgz/kiroproxy/internal/pool"
)

// accountView is a pool entry joined with its credential's non-sensitive
// fields, for the admin listing/status endpoints. AccessToken, RefreshToken
// and ClientSecret are never serialized here.
type accountView struct {
	Name                string `json:"name"`
	RequestCount        uint64 `json:"request_count"`
	FailureCount        int    `json:"failure_count"`
	InPool              bool   `json:"in_pool"`
	PermanentlyDisabled bool   `json:"permanently_disabled"`
	CooldownUntil       string `json:"cooldown_until,omitempty"`
	Provider            string `json:"provider,omitempty"`
	AuthMethod          string `json:"auth_method,omitempty"`
	Region              string `json:"region,omitempty"`
}

func (s *Server) view(e pool.AccountEntry) accountView {
	v := accountView{
		Name:                e.Name,
		RequestCount:        e.RequestCount,
		FailureCount:        e.FailureCount,
		InPool:              e.InPool,
		PermanentlyDisabled: e.PermanentlyDisabled,
	}
	if !e.CooldownUntil.IsZero() {
		v.CooldownUntil = e.CooldownUntil.Format("2006-01-02T15:04:05Z07:00")
	}
	if cred, ok := s.store.Get(e.Name); ok {
		v.Provider = string(cred.Provider)
		v.AuthMethod = string(cred.AuthMethod)
		v.Region = cred.Region
	}
	return v
}

// handlePoolStatus implements GET /admin/pool/status: pool state for every
// account, plus a tail of recent log activity.
func (s *Server) handlePoolStatus(c *gin.Context) {
	entries := pool.SortedByName(s.pool.Snapshot())
	views := make([]accountView, 0, len(entries))
	for _, e := range entries {
		views = append(views, s.view(e))
	}

	recent := logging.GetRecentGlobalEntries(100)
	c.JSON(http.StatusOK, gin.H{
		"accounts":    views,
		"pool_size":   len(entries),
		"recent_logs": recent,
	})
}

// handleListAccounts implements GET /admin/accounts: one entry per loaded
// credential, joined with its pool state where present.
func (s *Server) handleListAccounts(c *gin.Context) {
	names := s.store.Names()
	views := make([]accountView, 0, len(names))
	for _, name := range names {
		e, ok := s.pool.Get(name)
		if !ok {
			e = pool.AccountEntry{Name: name}
		}
		views = append(views, s.view(e))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": views})
}

// addAccountRequest is the body of POST /admin/accounts.
type addAccountRequest struct {
	Name       string              `json:"name" binding:"required"`
	Credential kiroauth.Credential `json:"credential" binding:"required"`
}

// handleAddAccount implements POST /admin/accounts: registers a new
// credential, persisting it under credentials-dir, and adds it to the pool.
func (s *Server) handleAddAccount(c *gin.Context) {
	var req addAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := ""
	if s.cfg.CredentialsDir != "" {
		path = filepath.Join(s.cfg.CredentialsDir, req.Name+".json")
	}
	if err := s.store.Add(req.Name, req.Credential, path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.pool.Add(req.Name)
	c.JSON(http.StatusOK, gin.H{"status": "added", "name": req.Name})
}

type accountNameRequest struct {
	Name       string `json:"name" binding:"required"`
	DeleteFile bool   `json:"delete_file"`
}

// handleRemoveAccount implements POST /admin/accounts/remove.
func (s *Server) handleRemoveAccount(c *gin.Context) {
	var req accountNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.Remove(req.Name, req.DeleteFile); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.pool.Remove(req.Name)
	c.JSON(http.StatusOK, gin.H{"status": "removed", "name": req.Name})
}

// handleRefreshAccount implements POST /admin/accounts/refresh: forces an
// unconditional token refresh for the named account.
func (s *Server) handleRefreshAccount(c *gin.Context) {
	var req accountNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := s.store.ForceRefresh(c.Request.Context(), req.Name); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed", "name": req.Name})
}

// handleResetAccount implements POST /admin/accounts/reset: clears failure
// state and re-enables the account in the pool.
func (s *Server) handleResetAccount(c *gin.Context) {
	var req accountNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ok := s.pool.Reset(req.Name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset", "name": req.Name})
}

// checkResult is one account's health-check outcome.
type checkResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// checkAccount refreshes the account's token as a lightweight upstream
// reachability probe, without dispatching a full chat request.
func (s *Server) checkAccount(c *gin.Context, name string) checkResult {
	if _, err := s.store.EnsureFresh(c.Request.Context(), name); err != nil {
		return checkResult{Name: name, Healthy: false, Error: err.Error()}
	}
	return checkResult{Name: name, Healthy: true}
}

// handleCheckAccount implements POST /admin/accounts/check: probes a single
// account by ensuring its token is fresh.
func (s *Server) handleCheckAccount(c *gin.Context) {
	var req accountNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.checkAccount(c, req.Name))
}

// batchCheckRequest is the body of POST /admin/accounts/batch-check. An
// empty Names list checks every loaded account.
type batchCheckRequest struct {
	Names []string `json:"names"`
}

// handleBatchCheckAccounts implements POST /admin/accounts/batch-check.
func (s *Server) handleBatchCheckAccounts(c *gin.Context) {
	var req batchCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	names := req.Names
	if len(names) == 0 {
		names = s.store.Names()
	}

	results := make([]checkResult, 0, len(names))
	for _, name := range names {
		results = append(results, s.checkAccount(c, name))
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleUploadCredential implements POST /admin/accounts/credentials: same
// effect as handleAddAccount, kept as a distinct endpoint for clients that
// upload a raw credential file body under a query-string account name.
func (s *Server) handleUploadCredential(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name query parameter"})
		return
	}

	var cred kiroauth.Credential
	if err := c.ShouldBindJSON(&cred); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := ""
	if s.cfg.CredentialsDir != "" {
		path = filepath.Join(s.cfg.CredentialsDir, name+".json")
	}
	if err := s.store.Add(name, cred, path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.pool.Add(name)
	c.JSON(http.StatusOK, gin.H{"status": "uploaded", "name": name})
}
