package http

import (
	"net/http"

	"budgetbuddy/internal/cache"
	"budgetbuddy/internal/core"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/services"
)

// retry refetches keys when the page was requested through the Retry link.
// The first failure is returned so the page shows it without fetching again.
func (s *Server) retry(r *http.Request, keys ...cache.Key) error {
	if r.URL.Query().Get("retry") == "" {
		return nil
	}
	for _, k := range keys {
		if err := s.budget.Refetch(r.Context(), k); err != nil {
			log.FromContext(r.Context()).DebugContext(r.Context(), "Refetch failed",
				log.FieldCacheKey, k.String(), log.FieldError, err)
			return err
		}
	}
	return nil
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Categories")
	if err := s.retry(r, services.CategoriesKey()); err != nil {
		s.loadFailed(w, r, "categories.html", p, err)
		return
	}

	cats, err := s.budget.ListCategories(r.Context())
	if err != nil {
		s.loadFailed(w, r, "categories.html", p, err)
		return
	}
	p.Data = cats
	s.render(w, r, http.StatusOK, "categories.html", p)
}

func (s *Server) handleAddCategoryPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "category_form.html", s.newPage(r, "Add Category"))
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		BadRequestError("Invalid request format").Write(w, r)
		return
	}
	p := s.newPage(r, "Add Category")
	p.Form = form.Values(categoryFields...)

	if _, err := s.budget.CreateCategory(r.Context(), parseCategory(form)); err != nil {
		s.formFailed(w, r, "category_form.html", p, err)
		return
	}
	redirect(w, r, "/categories?notice=category-saved")
}

func (s *Server) handleUpdateCategoryPage(w http.ResponseWriter, r *http.Request) {
	p := s.newPage(r, "Update Category")
	if err := s.retry(r, services.CategoriesKey()); err != nil {
		s.loadFailed(w, r, "error.html", p, err)
		return
	}
	cat, err := s.budget.Category(r.Context(), core.ID(r.PathValue("id")))
	if err != nil {
		s.loadFailed(w, r, "error.html", p, err)
		return
	}
	p.Form["name"] = cat.Name
	p.Form["type"] = string(cat.Type)
	s.render(w, r, http.StatusOK, "category_form.html", p)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	form, err := parseForm(w, r)
	if err != nil {
		BadRequestError("Invalid request format").Write(w, r)
		return
	}
	p := s.newPage(r, "Update Category")
	p.Form = form.Values(categoryFields...)

	id := core.ID(r.PathValue("id"))
	if _, err := s.budget.UpdateCategory(r.Context(), id, parseCategory(form)); err != nil {
		s.formFailed(w, r, "category_form.html", p, err)
		return
	}
	redirect(w, r, "/categories?notice=category-saved")
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := core.ID(r.PathValue("id"))
	if err := s.budget.DeleteCategory(r.Context(), id); err != nil {
		p := s.newPage(r, "Categories")
		p.Path, p.Query = "/categories", nil
		if cats, lerr := s.budget.ListCategories(r.Context()); lerr == nil {
			p.Data = cats
		}
		s.formFailed(w, r, "categories.html", p, err)
		return
	}
	redirect(w, r, "/categories?notice=category-deleted")
}
