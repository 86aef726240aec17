package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/cases"

	"github.com/SergeiSkv/pictofix/dataset"
	"github.com/SergeiSkv/pictofix/models"
)

var searchFields = []string{models.FieldName, models.FieldBonus, models.FieldZone, models.FieldEmplacement}

// item is a record with its precomputed search text
type item struct {
	rec    *models.Record
	search string
	rarity models.Rarity
}

func buildIndex(ds *dataset.Dataset) []item {
	// A Caser is stateful, one per call
	fold := cases.Fold()
	items := make([]item, 0, ds.Len())
	for _, rec := range ds.Records {
		parts := make([]string, 0, len(searchFields))
		for _, field := range searchFields {
			if s, ok := rec.GetString(field); ok {
				parts = append(parts, s)
			}
		}
		level, _ := rec.GetInt(models.FieldNiveau)
		items = append(items, item{
			rec:    rec,
			search: fold.String(strings.Join(parts, "\n")),
			rarity: models.RarityForLevel(level),
		})
	}
	return items
}

type listResponse struct {
	Items      []pictoView `json:"items"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	TotalPages int         `json:"total_pages"`
}

// handleListPictos searches, sorts and paginates the dataset
func (s *Server) handleListPictos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sortField := q.Get("sort")
	if sortField == "" {
		sortField = models.FieldID
	}
	if !slices.Contains(models.FieldOrder, sortField) {
		respondError(w, http.StatusBadRequest, "Unknown sort field")
		return
	}
	desc := false
	switch strings.ToLower(q.Get("dir")) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		respondError(w, http.StatusBadRequest, "Sort direction must be asc or desc")
		return
	}

	page, err := positiveParam(q.Get("page"), 1)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	perPage, err := positiveParam(q.Get("per_page"), s.opts.PerPage)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid per_page")
		return
	}
	perPage = min(perPage, MaxPerPage)

	matched := s.search(q.Get("q"))
	sortItems(matched, sortField, desc)

	total := len(matched)
	totalPages := (total + perPage - 1) / perPage
	start := total
	if page <= totalPages {
		start = (page - 1) * perPage
	}
	end := min(start+perPage, total)

	views := make([]pictoView, 0, end-start)
	for _, it := range matched[start:end] {
		views = append(views, pictoView{rec: it.rec, rarity: it.rarity})
	}

	respondJSON(w, http.StatusOK, listResponse{
		Items:      views,
		TotalCount: total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	})
}

// handleGetPicto returns a single picto by id
func (s *Server) handleGetPicto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, it := range s.items {
		if it.rec.IDString() == id {
			respondJSON(w, http.StatusOK, pictoView{rec: it.rec, rarity: it.rarity})
			return
		}
	}
	respondError(w, http.StatusNotFound, "Picto not found")
}

type normalizeRequest struct {
	Bonus string `json:"bonus"`
}

type normalizeResponse struct {
	Bonus   string          `json:"bonus"`
	Changed bool            `json:"changed"`
	Rules   []models.RuleID `json:"rules"`
}

// handleNormalize previews the normalizer on a bonus text
func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req normalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	out, rules := s.normalizer.Trace(req.Bonus)
	if rules == nil {
		rules = []models.RuleID{}
	}
	respondJSON(w, http.StatusOK, normalizeResponse{
		Bonus:   out,
		Changed: out != req.Bonus,
		Rules:   rules,
	})
}

func (s *Server) search(query string) []item {
	query = strings.TrimSpace(query)
	if query == "" {
		return slices.Clone(s.items)
	}
	needle := cases.Fold().String(query)
	var matched []item
	for _, it := range s.items {
		if strings.Contains(it.search, needle) {
			matched = append(matched, it)
		}
	}
	return matched
}

// sortItems orders integers before text in either direction. Integers compare
// numerically and text by its case-folded form. Records missing the field sort last.
func sortItems(items []item, field string, desc bool) {
	fold := cases.Fold()
	type key struct {
		num     int
		isNum   bool
		text    string
		missing bool
	}
	keys := make(map[*models.Record]key, len(items))
	for _, it := range items {
		var k key
		if n, ok := it.rec.GetInt(field); ok {
			k.num, k.isNum = n, true
		} else if s, ok := it.rec.GetString(field); ok {
			k.text = fold.String(s)
		} else {
			k.missing = true
		}
		keys[it.rec] = k
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := keys[items[i].rec], keys[items[j].rec]
		if a.missing != b.missing {
			return b.missing
		}
		if a.isNum != b.isNum {
			return a.isNum
		}
		var less, greater bool
		if a.isNum {
			less, greater = a.num < b.num, a.num > b.num
		} else {
			less, greater = a.text < b.text, a.text > b.text
		}
		if desc {
			return greater
		}
		return less
	})
}

func positiveParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}
