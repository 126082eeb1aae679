package httpapi

import (
	"net/http"
	"strconv"

	"flowgate/pkg/model"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := model.Health{Status: "healthy"}
	if p, err := s.svc.CurrentProject(r.Context()); err == nil && p != nil {
		out.Project = p.Name
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetIntercept(w http.ResponseWriter, r *http.Request) {
	on, err := s.svc.InterceptEnabled(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.InterceptState{Enabled: on})
}

func (s *Server) handleSetIntercept(w http.ResponseWriter, r *http.Request) {
	var in model.InterceptState
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := s.svc.SetInterceptEnabled(r.Context(), in.Enabled); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleHeld(w http.ResponseWriter, r *http.Request) {
	held, err := s.svc.HeldFlows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, held)
}

func (s *Server) handleForwardAll(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ForwardAll(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, model.Accepted{Message: "forward all queued"})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "flowID")
	var in model.ForwardRequest
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := s.svc.ForwardFlow(r.Context(), id, in.EditedRequest); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, model.Accepted{Message: "forward queued", FlowID: id})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "flowID")
	if err := s.svc.DropFlow(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, model.Accepted{Message: "drop queued", FlowID: id})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in model.CreateProjectRequest
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	p, err := s.svc.CreateProject(r.Context(), in.Name, in.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.CurrentProject(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currentOf(p))
}

func (s *Server) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	var in model.SelectProjectRequest
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	p, err := s.svc.SelectProject(r.Context(), in.ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currentOf(p))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	p, err := s.svc.Project(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.DeleteProject(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.svc.Requests(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	rid, ok := uintParam(w, r, "requestID")
	if !ok {
		return
	}
	req, err := s.svc.Request(r.Context(), id, rid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		badRequest(w, name+" must be a positive integer")
		return 0, false
	}
	return uint(n), true
}

func currentOf(p *model.Project) model.CurrentProject {
	if p == nil {
		return model.CurrentProject{}
	}
	id := p.ID
	return model.CurrentProject{ProjectID: &id, Project: p}
}
