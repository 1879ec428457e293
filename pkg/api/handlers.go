package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/incident"
	"github.com/latticehq/lattice/pkg/ingest"
	"github.com/latticehq/lattice/pkg/llm"
	"github.com/latticehq/lattice/pkg/memory"
	"github.com/latticehq/lattice/pkg/plan"
	"github.com/latticehq/lattice/pkg/planner"
	"github.com/latticehq/lattice/pkg/search"
	"github.com/latticehq/lattice/pkg/severity"
	"github.com/latticehq/lattice/pkg/version"
)

func errResponse(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured"})
}

// health reports liveness plus a coarse readiness per backend.
func (s *Server) health(c *gin.Context) {
	checks := gin.H{}
	status := "healthy"
	if s.deps.Orchestrator == nil {
		checks["search"] = "unavailable"
		status = "degraded"
	} else {
		checks["search"] = "ok"
	}
	if s.deps.Scheduler == nil {
		checks["ingest"] = "unavailable"
		status = "degraded"
	} else {
		checks["ingest"] = "ok"
	}
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "version": version.Full(), "checks": checks})
}

type queryRequest struct {
	Query      string         `json:"query" binding:"required"`
	Modalities []string       `json:"modalities,omitempty"`
	Components []string       `json:"components,omitempty"`
	Hints      *planner.Hints `json:"hints,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Synthesize bool           `json:"synthesize,omitempty"`
}

type queryResponse struct {
	*search.Response
	Answer string `json:"answer,omitempty"`
}

func (s *Server) query(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		unavailable(c, "search")
		return
	}
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	resp := s.deps.Orchestrator.Query(c.Request.Context(), req.Query, search.Options{
		Hints:      req.Hints,
		Modalities: req.Modalities,
		Components: req.Components,
		Limit:      req.Limit,
	})
	out := queryResponse{Response: resp}
	if req.Synthesize && s.deps.Synthesizer != nil {
		out.Answer = s.synthesize(c, req.Query, resp)
	}
	c.JSON(http.StatusOK, out)
}

// synthesize composes an answer from the fused results. Failures degrade to
// results-only responses.
func (s *Server) synthesize(c *gin.Context, query string, resp *search.Response) string {
	snippets := make([]llm.Snippet, 0, len(resp.Results))
	for _, r := range resp.Results {
		snippets = append(snippets, llm.Snippet{
			Source: r.Modality,
			Title:  r.Title,
			Text:   r.Chunk.Text,
		})
	}
	answer, err := s.deps.Synthesizer.Synthesize(c.Request.Context(), query, snippets)
	if err != nil {
		s.logger.Warn("Answer synthesis failed", "error", err)
		return ""
	}
	return answer
}

type ingestRequest struct {
	Scope *config.ModalityScope `json:"scope,omitempty"`
}

func (s *Server) triggerIngest(c *gin.Context) {
	if s.deps.Scheduler == nil {
		unavailable(c, "ingest")
		return
	}
	var req ingestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errResponse(c, http.StatusBadRequest, err)
			return
		}
	}
	modalityID := c.Param("modality")
	err := s.deps.Scheduler.Trigger(c.Request.Context(), modalityID, req.Scope)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"modality": modalityID, "status": "started"})
	case errors.Is(err, ingest.ErrRunInProgress):
		errResponse(c, http.StatusConflict, err)
	case errors.Is(err, ingest.ErrShuttingDown):
		errResponse(c, http.StatusServiceUnavailable, err)
	default:
		errResponse(c, http.StatusNotFound, err)
	}
}

func (s *Server) status(c *gin.Context) {
	out := gin.H{}
	if s.deps.Registry != nil {
		out["modalities"] = s.deps.Registry.Status()
	}
	if s.deps.Scheduler != nil {
		out["active_ingestions"] = s.deps.Scheduler.Active()
	}
	if s.deps.Monitor != nil {
		out["performance"] = s.deps.Monitor.Snapshot()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listInvestigations(c *gin.Context) {
	if s.deps.Investigations == nil {
		unavailable(c, "investigations")
		return
	}
	limit := intQuery(c, "limit", 20)
	candidates, err := s.deps.Investigations.Recent(limit)
	if err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"investigations": candidates})
}

func (s *Server) getInvestigation(c *gin.Context) {
	if s.deps.Investigations == nil {
		unavailable(c, "investigations")
		return
	}
	candidate, err := s.deps.Investigations.Get(c.Param("id"))
	if err != nil {
		errResponse(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, candidate)
}

func (s *Server) buildInvestigation(c *gin.Context) {
	if s.deps.Builder == nil {
		unavailable(c, "investigations")
		return
	}
	var result incident.ReasoningResult
	if err := c.ShouldBindJSON(&result); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	candidate, err := s.deps.Builder.Build(result)
	if err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, candidate)
}

func (s *Server) getTrace(c *gin.Context) {
	if s.deps.Traces == nil {
		unavailable(c, "traces")
		return
	}
	trace, err := s.deps.Traces.Get(c.Param("id"))
	if err != nil {
		errResponse(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, trace)
}

type executePlanRequest struct {
	Plan    plan.Plan      `json:"plan" binding:"required"`
	Goal    string         `json:"goal,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (s *Server) executePlan(c *gin.Context) {
	if s.deps.Executor == nil {
		unavailable(c, "plan execution")
		return
	}
	var req executePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Plan.Steps) == 0 {
		errResponse(c, http.StatusBadRequest, errors.New("plan has no steps"))
		return
	}
	result := s.deps.Executor.Execute(c.Request.Context(), req.Plan, req.Goal, req.Context)
	c.JSON(http.StatusOK, result)
}

type severityRequest struct {
	IssueID     string   `json:"issue_id,omitempty"`
	Components  []string `json:"components,omitempty"`
	Topic       string   `json:"topic,omitempty"`
	DocSeverity string   `json:"doc_severity,omitempty"`
	DocImpact   string   `json:"doc_impact,omitempty"`
	DocLabels   []string `json:"doc_labels,omitempty"`
}

func (s *Server) scoreSeverity(c *gin.Context) {
	if s.deps.Severity == nil {
		unavailable(c, "severity scoring")
		return
	}
	var req severityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	payload := s.deps.Severity.Score(c.Request.Context(), severity.Input{
		IssueID:     req.IssueID,
		Components:  req.Components,
		Topic:       req.Topic,
		DocSeverity: req.DocSeverity,
		DocImpact:   req.DocImpact,
		DocLabels:   req.DocLabels,
	})
	c.JSON(http.StatusOK, payload)
}

func (s *Server) listMemories(c *gin.Context) {
	store, ok := s.userStore(c)
	if !ok {
		return
	}
	entries, err := store.All()
	if err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": entries})
}

type addMemoryRequest struct {
	Content  string   `json:"content" binding:"required"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Salience float64  `json:"salience,omitempty"`
	TTLDays  int      `json:"ttl_days,omitempty"`
}

func (s *Server) addMemory(c *gin.Context) {
	store, ok := s.userStore(c)
	if !ok {
		return
	}
	var req addMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	entry, err := store.Add(c.Request.Context(), memory.Entry{
		Content:       req.Content,
		Category:      req.Category,
		Tags:          req.Tags,
		SalienceScore: req.Salience,
		TTLDays:       req.TTLDays,
	})
	if err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type recallRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) recallMemories(c *gin.Context) {
	store, ok := s.userStore(c)
	if !ok {
		return
	}
	var req recallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	recalled, err := store.Recall(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recalled": recalled})
}

func (s *Server) userStore(c *gin.Context) (*memory.UserStore, bool) {
	if s.deps.Memory == nil {
		unavailable(c, "memory")
		return nil, false
	}
	user := strings.TrimSpace(c.Param("user"))
	if user == "" {
		errResponse(c, http.StatusBadRequest, errors.New("user id is required"))
		return nil, false
	}
	store, err := s.deps.Memory.Store(user)
	if err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return nil, false
	}
	return store, true
}

type createSessionRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) createSession(c *gin.Context) {
	if s.deps.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errResponse(c, http.StatusBadRequest, err)
			return
		}
	}
	session := s.deps.Sessions.Create(req.UserID, req.Message)
	c.JSON(http.StatusCreated, session)
}

func (s *Server) listSessions(c *gin.Context) {
	if s.deps.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": s.deps.Sessions.List()})
}

func (s *Server) getSession(c *gin.Context) {
	if s.deps.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	session, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		errResponse(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) deleteSession(c *gin.Context) {
	if s.deps.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	if err := s.deps.Sessions.Delete(c.Param("id")); err != nil {
		errResponse(c, http.StatusNotFound, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
