package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/SiteGenerator/internal/models"
	"github.com/digkill/SiteGenerator/internal/service"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type siteView struct {
	*models.GeneratedSite
	Code        string `json:"generated_code,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func newSiteView(site *models.GeneratedSite) siteView {
	view := siteView{GeneratedSite: site, Code: site.GeneratedCode}
	if site.HasArtifact() {
		view.DownloadURL = downloadURL(site.ID)
	}
	return view
}

func downloadURL(id int64) string {
	return fmt.Sprintf("/download/%d", id)
}

func resultURL(id int64) string {
	return fmt.Sprintf("/generation-result/%d", id)
}

// readPrompt accepts a JSON body or a form field.
func readPrompt(w http.ResponseWriter, r *http.Request) (string, error) {
	if isJSON(r) {
		var req generateRequest
		if err := decodeJSON(r, &req); err != nil {
			return "", err
		}
		return req.Prompt, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return "", badRequest("Invalid form body.")
	}
	return r.PostFormValue("prompt"), nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	prompt, err := readPrompt(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	outcome, err := s.sites.Generate(r.Context(), prompt, currentUser(r))
	if err != nil {
		if outcome != nil && outcome.Site != nil {
			if !wantsJSON(r) {
				http.Redirect(w, r, resultURL(outcome.Site.ID), http.StatusSeeOther)
				return
			}
			appErr := service.AsAppError(err)
			details := map[string]any{"site_id": outcome.Site.ID}
			for k, v := range appErr.Details {
				details[k] = v
			}
			err = service.NewAppErrorWithDetails(appErr.Code, appErr.Message, appErr.Err, details)
		}
		s.writeError(w, r, err)
		return
	}

	site := outcome.Site
	if !wantsJSON(r) {
		http.Redirect(w, r, resultURL(site.ID), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"site_id":         site.ID,
		"download_url":    downloadURL(site.ID),
		"generation_time": math.Round(outcome.Duration.Seconds()*100) / 100,
		"message":         "Website generated successfully!",
		"redirect_url":    resultURL(site.ID),
	})
}

func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	site, err := s.sites.Site(r.Context(), id, currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSiteView(site))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	site, data, err := s.sites.Download(r.Context(), id, currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="website_%d.zip"`, site.ID))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Warn("write archive", "site_id", site.ID, "err", err)
	}
}

func (s *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.sites.Delete(r.Context(), id, currentUser(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "site_id": id})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, badRequest("Invalid page number."))
			return
		}
		page = n
	}
	dashboard, err := s.sites.Dashboard(r.Context(), currentUser(r), service.DashboardQuery{
		Status: models.SiteStatus(strings.TrimSpace(q.Get("status"))),
		Search: strings.TrimSpace(q.Get("search")),
		Page:   page,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleSubmitSuggestion(w http.ResponseWriter, r *http.Request) {
	var in service.SuggestionInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	suggestion, err := s.feedback.Submit(r.Context(), currentUser(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"suggestion": suggestion,
		"message":    "Thank you for your suggestion!",
	})
}

func (s *Server) handleImplementedSuggestions(w http.ResponseWriter, r *http.Request) {
	items, err := s.feedback.Implemented(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": items})
}
