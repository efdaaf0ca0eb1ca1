package api

import (
	"net/http"
	"strconv"
	"time"

	apperrors "contextvault/internal/errors"
	"contextvault/internal/memory"
	"contextvault/internal/monitoring"
	"contextvault/pkg/types"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.container.Health.Check(r.Context())
	status := http.StatusOK
	if report.Status == monitoring.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleProcessConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserMessage string `json:"user_message"`
		AIResponse  string `json:"ai_response"`
		ToolName    string `json:"tool_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.container.Memory.ProcessConversation(r.Context(), req.UserMessage, req.AIResponse, req.ToolName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnalyzeConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserMessage string `json:"user_message"`
		AIResponse  string `json:"ai_response"`
		ToolName    string `json:"tool_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.container.Memory.AnalyzeConversation(r.Context(), req.UserMessage, req.AIResponse, req.ToolName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSuggestStorage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserMessage string `json:"user_message"`
		AIResponse  string `json:"ai_response"`
		ToolName    string `json:"tool_name"`
		AutoApprove bool   `json:"auto_approve"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.container.Memory.SuggestStorage(r.Context(), req.UserMessage, req.AIResponse, req.ToolName, req.AutoApprove)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBrowseRecent(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 0)
	limit := queryInt(r, "limit", 0)
	tool := r.URL.Query().Get("tool")
	convs, err := s.container.Memory.BrowseRecent(r.Context(), hours, limit, tool)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs, "count": len(convs)})
}

func (s *Server) handleBrowseByCategory(w http.ResponseWriter, r *http.Request) {
	category := types.Category(chi.URLParam(r, "category"))
	limit := queryInt(r, "limit", 0)
	tool := r.URL.Query().Get("tool")
	convs, err := s.container.Memory.BrowseByCategory(r.Context(), category, tool, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs, "count": len(convs)})
}

func (s *Server) handleStoreContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content   string                 `json:"content"`
		ToolName  string                 `json:"tool_name"`
		Tags      []string               `json:"tags"`
		ProjectID *string                `json:"project_id"`
		Metadata  map[string]interface{} `json:"metadata"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	conv, err := s.container.Memory.StoreContext(r.Context(), req.Content, req.ToolName, req.Tags, req.ProjectID, req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.container.Memory.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	tool := r.URL.Query().Get("tool")
	limit := queryInt(r, "limit", 0)
	convs, err := s.container.Memory.GetHistory(r.Context(), tool, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs, "count": len(convs)})
}

func (s *Server) handleEditConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	conv, err := s.container.Memory.EditConversation(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	conv, err := s.container.Memory.UpdateCategory(r.Context(), chi.URLParam(r, "id"), types.Category(req.Category))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.container.Memory.DeleteConversation(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

func (s *Server) handleFindRelated(w http.ResponseWriter, r *http.Request) {
	related, err := s.container.Memory.FindRelated(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"related": related, "count": len(related)})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req memory.BulkRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.container.Memory.Bulk(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query          string  `json:"query"`
		Mode           string  `json:"mode"`
		Limit          int     `json:"limit"`
		Tool           string  `json:"tool"`
		Category       string  `json:"category"`
		Project        string  `json:"project"`
		Since          string  `json:"since"`
		AutoStoredOnly bool    `json:"auto_stored_only"`
		MinConfidence  float64 `json:"min_confidence"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	searchReq := memory.SearchRequest{
		Query:          req.Query,
		Mode:           types.SearchMode(req.Mode),
		Limit:          req.Limit,
		Tool:           req.Tool,
		Category:       types.Category(req.Category),
		Project:        req.Project,
		AutoStoredOnly: req.AutoStoredOnly,
		MinConfidence:  req.MinConfidence,
	}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			s.writeError(w, r, apperrors.NewInvalidArgument("since", "must be RFC3339", req.Since))
			return
		}
		searchReq.Since = &since
	}
	results, err := s.container.Memory.Search(r.Context(), searchReq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleEnhancedContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	enhanced, err := s.container.Memory.BuildEnhancedContext(r.Context(), q.Get("query"), q.Get("project"), queryInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, enhanced)
}

func (s *Server) handleCheckDuplicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	matches, err := s.container.Memory.CheckDuplicate(r.Context(), req.Content, types.Category(req.Category))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches, "count": len(matches)})
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	status := types.SuggestionStatus(r.URL.Query().Get("status"))
	list := s.container.Suggestions.List(status)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": list, "count": len(list)})
}

func (s *Server) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModifiedContent string   `json:"modified_content"`
		Tags            []string `json:"tags"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	conv, err := s.container.Memory.ApproveSuggestion(r.Context(), chi.URLParam(r, "id"), req.ModifiedContent, req.Tags)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	suggestion, err := s.container.Memory.RejectSuggestion(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, suggestion)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb types.Feedback
	if err := decodeBody(r, &fb); err != nil {
		s.writeError(w, r, err)
		return
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now().UTC()
	}
	if err := s.container.Memory.SubmitFeedback(r.Context(), &fb); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		Path        *string `json:"path"`
		Description *string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	project, err := types.NewProject(req.Name, req.Path, req.Description)
	if err != nil {
		s.writeError(w, r, apperrors.NewInvalidArgument("name", err.Error(), req.Name))
		return
	}
	if err := s.container.Store.SaveProject(r.Context(), project); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.container.Store.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects, "count": len(projects)})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.container.Store.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleProjectContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.container.Store.GetProject(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	convs, err := s.container.Store.ByProject(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"project_id": id, "conversations": convs, "count": len(convs)})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.container.Store.DeleteProject(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key      string      `json:"key"`
		Value    interface{} `json:"value"`
		Category string      `json:"category"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Category == "" {
		req.Category = types.PreferenceCategoryGeneral
	}
	pref := &types.Preference{
		Key:       req.Key,
		Value:     req.Value,
		Category:  req.Category,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.container.Store.SetPreference(r.Context(), pref); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pref)
}

func (s *Server) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.container.Store.ListPreferences(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"preferences": prefs, "count": len(prefs)})
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		category = types.PreferenceCategoryGeneral
	}
	pref, err := s.container.Store.GetPreference(r.Context(), chi.URLParam(r, "key"), category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pref)
}

func (s *Server) handleDeletePreference(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		category = types.PreferenceCategoryGeneral
	}
	key := chi.URLParam(r, "key")
	if err := s.container.Store.DeletePreference(r.Context(), key, category); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "deleted": true})
}

type sessionRangeRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	ToolName string `json:"tool_name"`
}

func (r sessionRangeRequest) parse() (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, r.From)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.NewInvalidArgument("from", "must be RFC3339", r.From)
	}
	to, err := time.Parse(time.RFC3339, r.To)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.NewInvalidArgument("to", "must be RFC3339", r.To)
	}
	return from, to, nil
}

func (s *Server) handleAnalyzeSessions(w http.ResponseWriter, r *http.Request) {
	var req sessionRangeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := req.parse()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	analyses, err := s.container.Sessions.AnalyzeRange(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": analyses, "count": len(analyses)})
}

func (s *Server) handleCreateSessionSummaries(w http.ResponseWriter, r *http.Request) {
	var req sessionRangeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	from, to, err := req.parse()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summaries, err := s.container.Memory.CreateSessionSummaries(r.Context(), from, to, req.ToolName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"summaries": summaries, "count": len(summaries)})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.container.Memory.Statistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCheckIntegrity(w http.ResponseWriter, r *http.Request) {
	autoFix := r.URL.Query().Get("auto_fix") == "true"
	report, err := s.container.Memory.CheckIntegrity(r.Context(), autoFix)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleApplyRetention(w http.ResponseWriter, r *http.Request) {
	result, err := s.container.Memory.ApplyRetention(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVacuum(w http.ResponseWriter, r *http.Request) {
	if err := s.container.Memory.Vacuum(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"vacuumed": true})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.container.Memory.ReloadConfig(r.Context()))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
