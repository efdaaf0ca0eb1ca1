package mcp

import (
	"context"
	"time"

	apperrors "contextvault/internal/errors"
	"contextvault/internal/memory"
	"contextvault/pkg/types"

	"github.com/go-viper/mapstructure/v2"
)

// decodeOptions maps the loosely typed options object onto a typed struct.
func decodeOptions(args map[string]interface{}, dst interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return apperrors.NewInternal("failed to build options decoder", err)
	}
	if err := decoder.Decode(args); err != nil {
		return apperrors.NewInvalidArgument("options", err.Error(), nil)
	}
	return nil
}

func operationAndOptions(args map[string]interface{}) (string, map[string]interface{}, error) {
	operation, ok := args["operation"].(string)
	if !ok || operation == "" {
		return "", nil, apperrors.NewRequiredField("operation")
	}
	options, _ := args["options"].(map[string]interface{})
	if options == nil {
		options = map[string]interface{}{}
	}
	return operation, options, nil
}

func unknownOperation(operation string) error {
	return apperrors.NewInvalidArgument("operation", "unsupported operation", operation)
}

func parseTimeField(value, field string) (time.Time, error) {
	if value == "" {
		return time.Time{}, apperrors.NewRequiredField(field)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, apperrors.NewInvalidArgument(field, "must be RFC3339", value)
	}
	return t, nil
}

func (s *Server) handleProcess(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	operation, options, err := operationAndOptions(args)
	if err != nil {
		return nil, err
	}
	var opts struct {
		UserMessage string `json:"user_message"`
		AIResponse  string `json:"ai_response"`
		ToolName    string `json:"tool_name"`
		Content     string `json:"content"`
		Category    string `json:"category"`
		AutoApprove bool   `json:"auto_approve"`
	}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	switch operation {
	case "process_conversation":
		return s.container.Memory.ProcessConversation(ctx, opts.UserMessage, opts.AIResponse, opts.ToolName)
	case "analyze":
		return s.container.Memory.AnalyzeConversation(ctx, opts.UserMessage, opts.AIResponse, opts.ToolName)
	case "suggest":
		return s.container.Memory.SuggestStorage(ctx, opts.UserMessage, opts.AIResponse, opts.ToolName, opts.AutoApprove)
	case "check_duplicate":
		matches, err := s.container.Memory.CheckDuplicate(ctx, opts.Content, types.Category(opts.Category))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"matches": matches, "count": len(matches)}, nil
	}
	return nil, unknownOperation(operation)
}

func (s *Server) handleStore(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var opts struct {
		Content   string                 `json:"content"`
		ToolName  string                 `json:"tool_name"`
		Tags      []string               `json:"tags"`
		ProjectID string                 `json:"project_id"`
		Metadata  map[string]interface{} `json:"metadata"`
	}
	if err := decodeOptions(args, &opts); err != nil {
		return nil, err
	}
	var projectID *string
	if opts.ProjectID != "" {
		projectID = &opts.ProjectID
	}
	return s.container.Memory.StoreContext(ctx, opts.Content, opts.ToolName, opts.Tags, projectID, opts.Metadata)
}

func (s *Server) handleSearch(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	operation, options, err := operationAndOptions(args)
	if err != nil {
		return nil, err
	}
	var opts struct {
		Query          string  `json:"query"`
		Mode           string  `json:"mode"`
		Limit          int     `json:"limit"`
		ID             string  `json:"id"`
		ToolName       string  `json:"tool_name"`
		Category       string  `json:"category"`
		Project        string  `json:"project"`
		Since          string  `json:"since"`
		Hours          int     `json:"hours"`
		AutoStoredOnly bool    `json:"auto_stored_only"`
		MinConfidence  float64 `json:"min_confidence"`
	}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	switch operation {
	case "search":
		req := memory.SearchRequest{
			Query:          opts.Query,
			Mode:           types.SearchMode(opts.Mode),
			Limit:          opts.Limit,
			Tool:           opts.ToolName,
			Category:       types.Category(opts.Category),
			Project:        opts.Project,
			AutoStoredOnly: opts.AutoStoredOnly,
			MinConfidence:  opts.MinConfidence,
		}
		if opts.Since != "" {
			since, err := parseTimeField(opts.Since, "since")
			if err != nil {
				return nil, err
			}
			req.Since = &since
		}
		return s.container.Memory.Search(ctx, req)
	case "get":
		return s.container.Memory.GetConversation(ctx, opts.ID)
	case "get_history":
		convs, err := s.container.Memory.GetHistory(ctx, opts.ToolName, opts.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"conversations": convs, "count": len(convs)}, nil
	case "browse_recent":
		convs, err := s.container.Memory.BrowseRecent(ctx, opts.Hours, opts.Limit, opts.ToolName)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"conversations": convs, "count": len(convs)}, nil
	case "browse_category":
		convs, err := s.container.Memory.BrowseByCategory(ctx, types.Category(opts.Category), opts.ToolName, opts.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"conversations": convs, "count": len(convs)}, nil
	case "find_related":
		related, err := s.container.Memory.FindRelated(ctx, opts.ID, opts.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"related": related, "count": len(related)}, nil
	case "enhanced_context":
		return s.container.Memory.BuildEnhancedContext(ctx, opts.Query, opts.Project, opts.Limit)
	}
	return nil, unknownOperation(operation)
}

func (s *Server) handleUpdate(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	operation, options, err := operationAndOptions(args)
	if err != nil {
		return nil, err
	}
	var opts struct {
		ID            string   `json:"id"`
		Content       string   `json:"content"`
		Category      string   `json:"category"`
		BulkOperation string   `json:"bulk_operation"`
		IDs           []string `json:"ids"`
		Tags          []string `json:"tags"`
	}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	switch operation {
	case "edit":
		return s.container.Memory.EditConversation(ctx, opts.ID, opts.Content)
	case "update_category":
		return s.container.Memory.UpdateCategory(ctx, opts.ID, types.Category(opts.Category))
	case "bulk":
		return s.container.Memory.Bulk(ctx, memory.BulkRequest{
			Operation: opts.BulkOperation,
			IDs:       opts.IDs,
			Tags:      opts.Tags,
			Category:  types.Category(opts.Category),
		})
	}
	return nil, unknownOperation(operation)
}

func (s *Server) handleDelete(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, _ := args["id"].(string)
	if err := s.container.Memory.DeleteConversation(ctx, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "deleted": true}, nil
}

func (s *Server) handleSuggestions(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	operation, options, err := operationAndOptions(args)
	if err != nil {
		return nil, err
	}
	var opts struct {
		ID              string   `json:"id"`
		Status          string   `json:"status"`
		ModifiedContent string   `json:"modified_content"`
		Tags            []string `json:"tags"`
		Reason          string   `json:"reason"`
	}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	switch operation {
	case "list":
		list := s.container.Suggestions.List(types.SuggestionStatus(opts.Status))
		return map[string]interface{}{"suggestions": list, "count": len(list)}, nil
	case "approve":
		conv, err := s.container.Memory.ApproveSuggestion(ctx, opts.ID, opts.ModifiedContent, opts.Tags)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"conversation": conv, "status": string(types.SuggestionApproved)}, nil
	case "reject":
		suggestion, err := s.container.Memory.RejectSuggestion(ctx, opts.ID, opts.Reason)
		if err != nil {
			return nil, err
		}
		return suggestion, nil
	}
	return nil, unknownOperation(operation)
}

func (s *Server) handleFeedback(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var opts struct {
		Type      string                 `json:"type"`
		TargetID  string                 `json:"target_id"`
		Original  string                 `json:"original"`
		Corrected string                 `json:"corrected"`
		Category  string                 `json:"category"`
		Context   map[string]interface{} `json:"context"`
	}
	if err := decodeOptions(args, &opts); err != nil {
		return nil, err
	}
	fb := &types.Feedback{
		Type:      types.FeedbackType(opts.Type),
		TargetID:  opts.TargetID,
		Original:  opts.Original,
		Corrected: opts.Corrected,
		Category:  types.Category(opts.Category),
		Context:   opts.Context,
		Timestamp: time.Now().UTC(),
	}
	if err := s.container.Memory.SubmitFeedback(ctx, fb); err != nil {
		return nil, err
	}
	return map[string]interface{}{"accepted": true, "type": opts.Type, "target_id": opts.TargetID}, nil
}

func (s *Server) handleProjects(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	operation, options, err := operationAndOptions(args)
	if err != nil {
		return nil, err
	}
	var opts struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Path        string `json:"path"`
		Description string `json:"description"`
	}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	store := s.container.Store

	switch operation {
	case "create":
		var path, description *string
		if opts.Path != "" {
			path = &opts.Path
		}
		if opts.Description != "" {
			description = &opts.Description
		}
		project, err := types.NewProject(opts.Name, path, description)
		if err != nil {
			return nil, apperrors.NewInvalidArgument("name", err.Error(), opts.Name)
		}
		if err := store.SaveProject(ctx, project); err != nil {
			return nil, err
		}
		return project, nil
	case "get":
		if opts.ID != "" {
			return store.GetProject(ctx, opts.ID)
		}
		if opts.Name != "" {
			return store.GetProjectByName(ctx, opts.Name)
		}
		return nil, apperrors.NewRequiredField("id or name")
	case "list":
		projects, err := store.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"projects": projects, "count": len(projects)}, nil
	case "delete":
		if err := store.DeleteProject(ctx, opts.ID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": opts.ID, "deleted": true}, nil
	}
	return nil, unknownOperation(operation)
}

func (s *Server) handlePreferences(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	operation, options, err := operationAndOptions(args)
	if err != nil {
		return nil, err
	}
	key, _ := options["key"].(string)
	category, _ := options["category"].(string)
	if category == "" {
		category = types.PreferenceCategoryGeneral
	}
	store := s.container.Store

	switch operation {
	case "set":
		if key == "" {
			return nil, apperrors.NewRequiredField("key")
		}
		pref := &types.Preference{
			Key:       key,
			Value:     options["value"],
			Category:  category,
			UpdatedAt: time.Now().UTC(),
		}
		if err := store.SetPreference(ctx, pref); err != nil {
			return nil, err
		}
		return pref, nil
	case "get":
		return store.GetPreference(ctx, key, category)
	case "list":
		prefs, err := store.ListPreferences(ctx, category)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"preferences": prefs, "count": len(prefs)}, nil
	case "delete":
		if err := store.DeletePreference(ctx, key, category); err != nil {
			return nil, err
		}
		return map[string]interface{}{"key": key, "deleted": true}, nil
	}
	return nil, unknownOperation(operation)
}

func (s *Server) handleSessions(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	operation, options, err := operationAndOptions(args)
	if err != nil {
		return nil, err
	}
	var opts struct {
		From     string `json:"from"`
		To       string `json:"to"`
		ToolName string `json:"tool_name"`
	}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	from, err := parseTimeField(opts.From, "from")
	if err != nil {
		return nil, err
	}
	to, err := parseTimeField(opts.To, "to")
	if err != nil {
		return nil, err
	}
	sessions := s.container.Sessions

	switch operation {
	case "analyze":
		analyses, err := sessions.AnalyzeRange(ctx, from, to)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"sessions": analyses, "count": len(analyses)}, nil
	case "create_summary":
		summaries, err := s.container.Memory.CreateSessionSummaries(ctx, from, to, opts.ToolName)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"summaries": summaries, "count": len(summaries)}, nil
	}
	return nil, unknownOperation(operation)
}

func (s *Server) handleSystem(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	operation, options, err := operationAndOptions(args)
	if err != nil {
		return nil, err
	}

	switch operation {
	case "statistics":
		return s.container.Memory.Statistics(ctx)
	case "health":
		return s.container.Health.Check(ctx), nil
	case "check_integrity":
		autoFix, _ := options["auto_fix"].(bool)
		return s.container.Memory.CheckIntegrity(ctx, autoFix)
	case "apply_retention":
		return s.container.Memory.ApplyRetention(ctx)
	case "vacuum":
		if err := s.container.Memory.Vacuum(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"vacuumed": true}, nil
	case "reload_config":
		return s.container.Memory.ReloadConfig(ctx), nil
	}
	return nil, unknownOperation(operation)
}
