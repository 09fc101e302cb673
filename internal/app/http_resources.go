package app

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// /api/documents[/{id}[/snapshots|/lineage|/history[/{revision}]]]
func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("includeArchived"))
			items, err := s.service.ListDocuments(r.Context(), session, includeArchived)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
			return
		case http.MethodPost:
			var input CreateDocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateDocument(r.Context(), session, input)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
			return
		}
	}

	if len(parts) == 3 {
		documentID := parts[2]
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(r.Context(), documentID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": doc})
			return
		case http.MethodPatch:
			var patch DocumentPatch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.UpdateDocumentMetadata(r.Context(), session, documentID, patch)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": doc})
			return
		}
	}

	if len(parts) == 4 {
		documentID := parts[2]
		switch {
		case parts[3] == "snapshots" && r.Method == http.MethodGet:
			items, err := s.service.ListSnapshots(r.Context(), documentID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"snapshots": items})
			return
		case parts[3] == "snapshots" && r.Method == http.MethodPost:
			var input CommitInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			snap, err := s.service.CommitSnapshot(r.Context(), session, documentID, input)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"snapshot": snap})
			return
		case parts[3] == "lineage" && r.Method == http.MethodGet:
			items, err := s.service.GetLineage(r.Context(), documentID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"lineage": items})
			return
		case parts[3] == "history" && r.Method == http.MethodGet:
			commits, err := s.service.DocumentHistory(r.Context(), documentID, queryInt(r, "limit", defaultHistoryEntries))
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
			return
		}
	}

	if len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodGet {
		content, err := s.service.DocumentContentAt(r.Context(), parts[2], parts[4])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(content))
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// /api/snapshots/{id}[/content|/export]
func (s *HTTPServer) handleSnapshots(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) < 3 || len(parts) > 4 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	snapshotID := parts[2]

	if len(parts) == 3 {
		snap, err := s.service.GetSnapshot(r.Context(), snapshotID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
		return
	}

	switch parts[3] {
	case "content":
		content, err := s.service.GetSnapshotContent(r.Context(), snapshotID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(content))
		return
	case "export":
		result, err := s.service.ExportSnapshot(r.Context(), snapshotID, r.URL.Query().Get("format"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		if result.ArchiveURL != "" {
			w.Header().Set("X-Archive-URL", result.ArchiveURL)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// /api/compare and /api/compare/summary
func (s *HTTPServer) handleCompare(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		from := strings.TrimSpace(r.URL.Query().Get("from"))
		to := strings.TrimSpace(r.URL.Query().Get("to"))
		result, err := s.service.Compare(r.Context(), from, to)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(parts) == 3 && parts[2] == "summary" && r.Method == http.MethodPost {
		var body struct {
			From string `json:"from"`
			To   string `json:"to"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		summary, err := s.service.CompareSummary(r.Context(), session, strings.TrimSpace(body.From), strings.TrimSpace(body.To))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// /api/proposals[/{id}[/status|/changes|/comments|/vote|/feedback]]
func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			page, err := s.service.ListProposals(r.Context(), session, ListProposalsInput{
				DocumentID: strings.TrimSpace(query.Get("documentId")),
				Status:     strings.TrimSpace(query.Get("status")),
				AuthorID:   strings.TrimSpace(query.Get("authorId")),
				Limit:      queryInt(r, "limit", 20),
				Offset:     queryInt(r, "offset", 0),
			})
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, page)
			return
		case http.MethodPost:
			var input CreateProposalInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			proposal, err := s.service.CreateProposal(r.Context(), session, input)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"proposal": proposal})
			return
		}
	}

	if len(parts) == 3 {
		proposalID := parts[2]
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetProposal(r.Context(), session, proposalID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"proposal": detail})
			return
		case http.MethodPatch:
			var patch ProposalPatch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			proposal, err := s.service.UpdateProposal(r.Context(), session, proposalID, patch)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"proposal": proposal})
			return
		}
	}

	if len(parts) == 4 {
		s.handleProposalAction(w, r, session, parts[2], parts[3])
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleProposalAction(w http.ResponseWriter, r *http.Request, session Session, proposalID, action string) {
	switch {
	case action == "status" && r.Method == http.MethodPost:
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		proposal, err := s.service.TransitionProposal(r.Context(), session, proposalID, body.Status)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposal": proposal})
		return

	case action == "changes" && r.Method == http.MethodGet:
		changes, err := s.service.ListChanges(r.Context(), session, proposalID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
		return

	case action == "changes" && r.Method == http.MethodPost:
		var input ChangeInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		change, err := s.service.AddChange(r.Context(), session, proposalID, input)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"change": change})
		return

	case action == "comments" && r.Method == http.MethodGet:
		comments, err := s.service.ListComments(r.Context(), session, proposalID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
		return

	case action == "comments" && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.AddComment(r.Context(), session, proposalID, body.Content)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
		return

	case action == "vote" && r.Method == http.MethodPost:
		var body struct {
			Kind string `json:"kind"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		vote, err := s.service.CastVote(r.Context(), session, proposalID, body.Kind)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, vote)
		return

	case action == "feedback" && r.Method == http.MethodGet:
		feedback, err := s.service.GetFeedback(r.Context(), session, proposalID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": feedback})
		return

	case action == "feedback" && r.Method == http.MethodPost:
		feedback, err := s.service.GenerateFeedback(r.Context(), session, proposalID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": feedback})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}

// /api/comments/{id}
func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	commentID := parts[2]

	switch r.Method {
	case http.MethodPatch:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.service.UpdateComment(r.Context(), session, commentID, body.Content)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comment": comment})
		return
	case http.MethodDelete:
		if err := s.service.DeleteComment(r.Context(), session, commentID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
}
