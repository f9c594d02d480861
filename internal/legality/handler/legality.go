package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/buildpass/buildpass-backend/internal/legality/catalog"
	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/buildpass/buildpass-backend/internal/legality/service"
	"github.com/buildpass/buildpass-backend/pkg/errors"
	"github.com/buildpass/buildpass-backend/pkg/httputil"
	"github.com/buildpass/buildpass-backend/pkg/i18n"
	"github.com/buildpass/buildpass-backend/pkg/logger"
)

const maxSearchLimit = 50

// parameterKeys are the numeric hints accepted by the check endpoint
var parameterKeys = []string{"clearanceLoaded", "trackWidthChange", "et", "noiseLevelDb"}

// LegalityHandler serves the interactive legality endpoints
type LegalityHandler struct {
	checks *service.CheckService
	engine *engine.Engine
	logger *logger.Logger
}

// NewLegalityHandler creates a new legality handler
func NewLegalityHandler(checks *service.CheckService, eng *engine.Engine, log *logger.Logger) *LegalityHandler {
	return &LegalityHandler{
		checks: checks,
		engine: eng,
		logger: log,
	}
}

// Routes mounts the legality endpoints on r
func (h *LegalityHandler) Routes(r chi.Router) {
	r.Get("/check", h.Check)
	r.Get("/catalog/search", h.SearchCatalog)
	r.Get("/regional-rules", h.RegionalRules)
}

// Check runs an ad-hoc assessment. The body is the bare result without the
// response envelope.
func (h *LegalityHandler) Check(w http.ResponseWriter, r *http.Request) {
	req := CheckRequestFromQuery(r.URL.Query())
	if err := httputil.Validate(&req); err != nil {
		httputil.SimpleError(w, http.StatusBadRequest, i18n.TFromContext(r.Context(), "errors.missing_brand_part"))
		return
	}

	resp, err := h.checks.Check(r.Context(), req)
	if err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) && appErr.StatusCode == http.StatusBadRequest {
			httputil.SimpleError(w, http.StatusBadRequest, appErr.Localize(r.Context()))
			return
		}
		h.logger.Error().Err(err).Msg("legality check failed")
		httputil.SimpleError(w, http.StatusInternalServerError, i18n.TFromContext(r.Context(), "errors.internal"))
		return
	}

	httputil.Raw(w, http.StatusOK, resp)
}

// CheckRequestFromQuery reads the check parameters. Unparseable numbers are
// treated as absent.
func CheckRequestFromQuery(q url.Values) service.CheckRequest {
	req := service.CheckRequest{
		Brand:          q.Get("brand"),
		PartName:       q.Get("partName"),
		Category:       q.Get("category"),
		ApprovalNumber: q.Get("approvalNumber"),
		Make:           q.Get("make"),
		Model:          q.Get("model"),
		StateID:        q.Get("stateId"),
		TuvStatus:      q.Get("tuvStatus"),
	}
	if year, err := strconv.Atoi(strings.TrimSpace(q.Get("year"))); err == nil && year > 0 {
		req.Year = year
	}
	for _, v := range q["evidence"] {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				req.Evidence = append(req.Evidence, e)
			}
		}
	}

	raw := make(map[string]any, len(parameterKeys))
	for _, key := range parameterKeys {
		if v := q.Get(key); v != "" {
			raw[key] = v
		}
	}
	req.Parameters = domain.ParseUserParameters(raw)
	return req
}

// SearchCatalog is the autocomplete lookup over the static catalog
func (h *LegalityHandler) SearchCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))

	category, err := parseCategory(q.Get("category"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	limit := catalog.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.Error(w, r, invalidParameter("limit"))
			return
		}
		limit = min(n, maxSearchLimit)
	}

	matches := []catalog.Match{}
	if text != "" {
		matches = append(matches, h.engine.Catalog().Search(text, category, limit)...)
	}

	httputil.JSONWithMeta(w, http.StatusOK, matches, &httputil.Meta{
		Total: len(matches),
		Limit: limit,
		Query: text,
	})
}

// RegionalRules lists the rules of a state, optionally for one category
func (h *LegalityHandler) RegionalRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stateID := catalog.NormalizeStateID(q.Get("stateId"))
	if stateID == "" {
		httputil.Error(w, r, invalidParameter("stateId"))
		return
	}
	category, err := parseCategory(q.Get("category"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	categories := domain.Categories
	if category != "" {
		categories = []domain.Category{category}
	}
	rules := []domain.RegionalRule{}
	for _, c := range categories {
		rules = append(rules, h.engine.RegionalRules(stateID, c)...)
	}

	httputil.JSONWithMeta(w, http.StatusOK, rules, &httputil.Meta{Total: len(rules)})
}

func parseCategory(raw string) (domain.Category, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	c, ok := domain.ParseCategory(raw)
	if !ok {
		return "", invalidParameter("category")
	}
	return c, nil
}

func invalidParameter(name string) *errors.AppError {
	return errors.BadRequest("invalid parameter: "+name).
		WithKey("errors.invalid_parameter", map[string]string{"name": name})
}
