// File: internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/attacktree"
)

// -- Request Bodies --

type nodeRequest struct {
	Label    string           `json:"label"`
	Gate     schemas.GateKind `json:"gate"`
	Position schemas.Position `json:"position"`
}

type nodePatch struct {
	Label    *string           `json:"label"`
	Position *schemas.Position `json:"position"`
}

type linkRequest struct {
	Source string `json:"source" binding:"required"`
	Target string `json:"target" binding:"required"`
}

type acceptRequest struct {
	Suggestion schemas.Suggestion `json:"suggestion"`
	ParentID   string             `json:"parent_id"`
}

type keepRequest struct {
	Label string `json:"label" binding:"required"`
}

type removeRequest struct {
	NodeID string `json:"node_id" binding:"required"`
}

type scenarioRequest struct {
	ID   string `json:"id"`
	Goal string `json:"goal"`
}

type scenarioResponse struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	MustHave  []string `json:"gold_must_have"`
	Scenarios []string `json:"scenarios"`
	Assisted  bool     `json:"assisted"`
}

// -- Tree --

func (s *Server) getTree(c *gin.Context) {
	c.Header("Content-Type", "application/json; charset=utf-8")
	if err := attacktree.Export(c.Writer, s.assistant.Graph().Snapshot()); err != nil {
		respondError(c, http.StatusInternalServerError, "export_failed", err)
	}
}

func (s *Server) putTree(c *gin.Context) {
	tree, err := attacktree.Import(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_tree", err)
		return
	}
	if err := s.assistant.ReplaceTree(tree); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_tree", err)
		return
	}
	respondOK(c, s.assistant.Graph().Snapshot())
}

func (s *Server) deleteTree(c *gin.Context) {
	s.assistant.ClearTree()
	c.Status(http.StatusNoContent)
}

func (s *Server) createNode(c *gin.Context) {
	var req nodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	var (
		n   schemas.Node
		err error
	)
	switch gate := schemas.GateKind(strings.ToUpper(string(req.Gate))); gate {
	case schemas.GateNone:
		n, err = s.assistant.AddNode(req.Label, req.Position)
	case schemas.GateAND, schemas.GateOR:
		n, err = s.assistant.AddGate(gate, req.Position)
	default:
		respondError(c, http.StatusBadRequest, "invalid_gate", fmt.Errorf("unknown gate %q", req.Gate))
		return
	}
	if err != nil {
		respondGraphError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (s *Server) updateNode(c *gin.Context) {
	var req nodePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	id := c.Param("id")
	n, err := s.assistant.Graph().Node(id)
	if req.Label != nil && err == nil {
		n, err = s.assistant.RenameNode(id, *req.Label)
	}
	if req.Position != nil && err == nil {
		n, err = s.assistant.MoveNode(id, *req.Position)
	}
	if err != nil {
		respondGraphError(c, err)
		return
	}
	respondOK(c, n)
}

func (s *Server) deleteNode(c *gin.Context) {
	if _, err := s.assistant.DeleteNode(c.Param("id")); err != nil {
		respondGraphError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) createLink(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	l, err := s.assistant.AddLink(req.Source, req.Target)
	if err != nil {
		respondGraphError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (s *Server) deleteLink(c *gin.Context) {
	if _, err := s.assistant.DeleteLink(c.Param("id")); err != nil {
		respondGraphError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// -- Assistance --

// suggest ranks candidates under the node named by ?parent=<id>, or under a
// free-text ?label= that is not on the canvas.
func (s *Server) suggest(c *gin.Context) {
	if parent := c.Query("parent"); parent != "" {
		res, err := s.assistant.SuggestForNode(c.Request.Context(), parent)
		if err != nil {
			respondGraphError(c, err)
			return
		}
		respondOK(c, res)
		return
	}
	respondOK(c, s.assistant.Suggest(c.Request.Context(), s.assistant.Graph().Snapshot(), c.Query("label")))
}

func (s *Server) acceptSuggestion(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := s.assistant.AcceptSuggestion(req.Suggestion, req.ParentID)
	if err != nil {
		respondGraphError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) prune(c *gin.Context) {
	limit := 0
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "invalid_max", fmt.Errorf("max must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}
	respondOK(c, s.assistant.PruneSession(c.Request.Context(), limit))
}

func (s *Server) pruneKeep(c *gin.Context) {
	var req keepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	s.assistant.Keep(req.Label)
	respondOK(c, gin.H{"kept": s.assistant.Kept().Labels()})
}

func (s *Server) pruneRemove(c *gin.Context) {
	var req removeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	n, err := s.assistant.RemoveFlagged(req.NodeID)
	if err != nil {
		respondGraphError(c, err)
		return
	}
	respondOK(c, n)
}

func (s *Server) explain(c *gin.Context) {
	respondOK(c, s.assistant.Explain(c.Request.Context(), c.Query("label")))
}

func (s *Server) evaluate(c *gin.Context) {
	respondOK(c, s.assistant.Evaluate(s.assistant.Graph().Snapshot()))
}

// -- Scenario and Session --

func (s *Server) scenarioState() scenarioResponse {
	sc := s.assistant.Context()
	return scenarioResponse{
		ID:        sc.ID(),
		Goal:      sc.Goal(),
		MustHave:  sc.MustHave(),
		Scenarios: s.assistant.ScenarioIDs(),
		Assisted:  s.assistant.Assisted(),
	}
}

func (s *Server) getScenario(c *gin.Context) {
	respondOK(c, s.scenarioState())
}

// putScenario switches to a loaded scenario by id and/or registers a goal label.
func (s *Server) putScenario(c *gin.Context) {
	var req scenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.ID == "" && strings.TrimSpace(req.Goal) == "" {
		respondError(c, http.StatusBadRequest, "invalid_body", errors.New("id or goal is required"))
		return
	}
	if req.ID != "" {
		s.assistant.SelectScenario(req.ID)
	}
	if strings.TrimSpace(req.Goal) != "" {
		s.assistant.RegisterScenarioGoal(req.Goal, nil)
	}
	respondOK(c, s.scenarioState())
}

func (s *Server) addAliases(c *gin.Context) {
	var pairs map[string]string
	if err := c.ShouldBindJSON(&pairs); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	s.assistant.AddScenarioAliases(pairs)
	respondOK(c, s.scenarioState())
}

func (s *Server) sessionLog(c *gin.Context) {
	path := s.assistant.Recorder().Path()
	if path == "" {
		respondError(c, http.StatusNotFound, "no_session_log", errors.New("session logging is disabled"))
		return
	}
	if _, err := os.Stat(path); err != nil {
		respondError(c, http.StatusNotFound, "no_session_log", err)
		return
	}
	c.Header("Content-Type", "application/x-ndjson")
	c.FileAttachment(path, "session.ndjson")
}
