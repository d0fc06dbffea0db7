// internal/models/query.go
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"dinner-workers/internal/common/errors"
)

const (
	MinRatingFloor = 0.0
	MaxRating      = 5.0
	MinPriceTier   = 1
	MaxPriceTier   = 4
	MaxQueryLimit  = 50
	MaxIntValue    = math.MaxInt32
)

// Fields that may appear in QueryModel.Replace.
const (
	FieldCuisine    = "cuisine"
	FieldKeywords   = "keywords"
	FieldExclusions = "exclusions"
	FieldPriceTier  = "price_tier"
)

// Location is either a free-text address or a coordinate pair.
type Location struct {
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

func (l *Location) IsZero() bool {
	return l == nil || (strings.TrimSpace(l.Address) == "" && !l.HasCoordinates())
}

func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.HasCoordinates() {
		return fmt.Sprintf("%.5f,%.5f", *l.Latitude, *l.Longitude)
	}
	return l.Address
}

// QueryModel is the validated search intent. Pointer and nil-slice fields are
// absent; absent fields never overwrite present ones during a merge.
// JSON names follow the extractor contract.
type QueryModel struct {
	Location     *Location `json:"location,omitempty"`
	Cuisine      []string  `json:"cuisine,omitempty"`
	PriceTier    []int     `json:"price_tier,omitempty"`
	RadiusMeters *int      `json:"radius_meters,omitempty"`
	MinRating    *float64  `json:"min_rating,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	Exclusions   []string  `json:"exclusions,omitempty"`
	OpenNow      *bool     `json:"open_now,omitempty"`
	Cursor       string    `json:"cursor,omitempty"`
	Limit        *int      `json:"limit,omitempty"`

	// Replace names set-valued fields that overwrite instead of union on merge.
	Replace []string `json:"replace,omitempty"`
}

// IsEmpty reports whether no search field is present.
func (q *QueryModel) IsEmpty() bool {
	if q == nil {
		return true
	}
	return q.Location.IsZero() && len(q.Cuisine) == 0 && len(q.PriceTier) == 0 &&
		q.RadiusMeters == nil && q.MinRating == nil && len(q.Keywords) == 0 &&
		len(q.Exclusions) == 0 && q.OpenNow == nil && q.Cursor == "" && q.Limit == nil
}

func (q *QueryModel) HasLocation() bool {
	return q != nil && !q.Location.IsZero()
}

func (q *QueryModel) replaces(field string) bool {
	for _, f := range q.Replace {
		if f == field {
			return true
		}
	}
	return false
}

// ToMap returns the canonical loosely-typed form accepted by ValidateQuery.
func (q *QueryModel) ToMap() map[string]interface{} {
	out := map[string]interface{}{}
	if q == nil {
		return out
	}
	data, err := json.Marshal(q)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

// Clone returns a deep copy.
func (q *QueryModel) Clone() *QueryModel {
	if q == nil {
		return nil
	}
	c := &QueryModel{
		Cuisine:    cloneStrings(q.Cuisine),
		Keywords:   cloneStrings(q.Keywords),
		Exclusions: cloneStrings(q.Exclusions),
		Replace:    cloneStrings(q.Replace),
		Cursor:     q.Cursor,
	}
	if q.PriceTier != nil {
		c.PriceTier = append([]int{}, q.PriceTier...)
	}
	if q.Location != nil {
		loc := &Location{Address: q.Location.Address}
		if q.Location.Latitude != nil {
			loc.Latitude = floatPtr(*q.Location.Latitude)
		}
		if q.Location.Longitude != nil {
			loc.Longitude = floatPtr(*q.Location.Longitude)
		}
		c.Location = loc
	}
	if q.RadiusMeters != nil {
		c.RadiusMeters = intPtr(*q.RadiusMeters)
	}
	if q.MinRating != nil {
		c.MinRating = floatPtr(*q.MinRating)
	}
	if q.OpenNow != nil {
		v := *q.OpenNow
		c.OpenNow = &v
	}
	if q.Limit != nil {
		c.Limit = intPtr(*q.Limit)
	}
	return c
}

// ==========================
// Validation
// ==========================

// ValidateQuery converts a loosely-typed extractor payload into a QueryModel.
// Unknown keys are ignored. Out-of-range values are rejected with a
// *errors.ValidationError, never clamped. A missing location is an error only
// when requireLocation is set.
func ValidateQuery(raw map[string]interface{}, requireLocation bool) (*QueryModel, error) {
	q := &QueryModel{}

	if v, ok := present(raw, "location"); ok {
		loc, err := parseLocation(v)
		if err != nil {
			return nil, err
		}
		q.Location = loc
	}
	if requireLocation && q.Location.IsZero() {
		return nil, errors.NewValidationError("location", "required before a search can run")
	}

	for _, key := range []string{"cuisine", "cuisines", "dietary"} {
		if v, ok := present(raw, key); ok {
			list, err := stringList(key, v)
			if err != nil {
				return nil, err
			}
			q.Cuisine = appendUnique(q.Cuisine, normalizeTokens(list)...)
		}
	}

	for _, key := range []string{"price_tier", "budget", "price"} {
		if v, ok := present(raw, key); ok {
			tiers, err := parsePriceTiers(key, v)
			if err != nil {
				return nil, err
			}
			q.PriceTier = mergeTiers(q.PriceTier, tiers)
		}
	}

	if v, ok := present(raw, "radius_meters"); ok {
		n, err := number("radius_meters", v)
		if err != nil {
			return nil, err
		}
		if n <= 0 || n != math.Trunc(n) {
			return nil, errors.NewValidationError("radius_meters", "must be a positive integer")
		}
		if n > MaxIntValue {
			return nil, errors.NewValidationError("radius_meters", "is too large")
		}
		q.RadiusMeters = intPtr(int(n))
	} else if v, ok := present(raw, "distance_km"); ok {
		n, err := number("distance_km", v)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, errors.NewValidationError("distance_km", "must be positive")
		}
		if n*1000 > MaxIntValue {
			return nil, errors.NewValidationError("distance_km", "is too large")
		}
		q.RadiusMeters = intPtr(int(math.Round(n * 1000)))
	}

	if v, ok := present(raw, "min_rating"); ok {
		n, err := number("min_rating", v)
		if err != nil {
			return nil, err
		}
		if n < MinRatingFloor || n > MaxRating {
			return nil, errors.NewValidationError("min_rating", fmt.Sprintf("must be between %.1f and %.1f", MinRatingFloor, MaxRating))
		}
		q.MinRating = floatPtr(n)
	}

	for _, key := range []string{"keywords", "vibe"} {
		if v, ok := present(raw, key); ok {
			list, err := stringList(key, v)
			if err != nil {
				return nil, err
			}
			q.Keywords = appendUniqueFold(q.Keywords, list...)
		}
	}

	for _, key := range []string{"exclusions", "avoid"} {
		if v, ok := present(raw, key); ok {
			list, err := stringList(key, v)
			if err != nil {
				return nil, err
			}
			q.Exclusions = appendUnique(q.Exclusions, normalizeTokens(list)...)
		}
	}

	if v, ok := present(raw, "open_now"); ok {
		b, err := boolean("open_now", v)
		if err != nil {
			return nil, err
		}
		q.OpenNow = &b
	}

	if v, ok := present(raw, "cursor"); ok {
		switch c := v.(type) {
		case string:
			q.Cursor = strings.TrimSpace(c)
		case float64, int, json.Number:
			n, err := number("cursor", c)
			if err != nil {
				return nil, err
			}
			if n < 0 || n > MaxIntValue || n != math.Trunc(n) {
				return nil, errors.NewValidationError("cursor", "must be a non-negative integer offset")
			}
			q.Cursor = strconv.FormatInt(int64(n), 10)
		default:
			return nil, errors.NewValidationError("cursor", "must be a string")
		}
	}

	if v, ok := present(raw, "limit"); ok {
		n, err := number("limit", v)
		if err != nil {
			return nil, err
		}
		if n < 1 || n > MaxQueryLimit || n != math.Trunc(n) {
			return nil, errors.NewValidationError("limit", fmt.Sprintf("must be an integer between 1 and %d", MaxQueryLimit))
		}
		q.Limit = intPtr(int(n))
	}

	if v, ok := present(raw, "replace"); ok {
		list, err := stringList("replace", v)
		if err != nil {
			return nil, err
		}
		for _, f := range list {
			switch f {
			case FieldCuisine, FieldKeywords, FieldExclusions, FieldPriceTier:
				q.Replace = appendUnique(q.Replace, f)
			}
		}
	}

	return q, nil
}

func parseLocation(v interface{}) (*Location, error) {
	switch l := v.(type) {
	case string:
		if strings.TrimSpace(l) == "" {
			return nil, nil
		}
		return &Location{Address: strings.TrimSpace(l)}, nil
	case map[string]interface{}:
		loc := &Location{}
		if a, ok := present(l, "address"); ok {
			s, isStr := a.(string)
			if !isStr {
				return nil, errors.NewValidationError("location.address", "must be a string")
			}
			loc.Address = strings.TrimSpace(s)
		}
		lat, hasLat, err := optionalNumber(l, "location.latitude", "latitude", "lat")
		if err != nil {
			return nil, err
		}
		lon, hasLon, err := optionalNumber(l, "location.longitude", "longitude", "lon", "lng")
		if err != nil {
			return nil, err
		}
		if hasLat != hasLon {
			return nil, errors.NewValidationError("location", "latitude and longitude must be given together")
		}
		if hasLat {
			if lat < -90 || lat > 90 {
				return nil, errors.NewValidationError("location.latitude", "must be between -90 and 90")
			}
			if lon < -180 || lon > 180 {
				return nil, errors.NewValidationError("location.longitude", "must be between -180 and 180")
			}
			loc.Latitude = floatPtr(lat)
			loc.Longitude = floatPtr(lon)
		}
		if loc.IsZero() {
			return nil, nil
		}
		return loc, nil
	default:
		return nil, errors.NewValidationError("location", "must be a string or an object")
	}
}

func optionalNumber(m map[string]interface{}, field string, keys ...string) (float64, bool, error) {
	for _, k := range keys {
		if v, ok := present(m, k); ok {
			n, err := number(field, v)
			return n, true, err
		}
	}
	return 0, false, nil
}

// parsePriceTiers accepts 2, [1,2], "1,2" and "$$".
func parsePriceTiers(field string, v interface{}) ([]int, error) {
	var raw []interface{}
	switch p := v.(type) {
	case []interface{}:
		raw = p
	case []int:
		for _, n := range p {
			raw = append(raw, n)
		}
	case string:
		s := strings.TrimSpace(p)
		if s == "" {
			return nil, nil
		}
		if strings.Trim(s, "$") == "" {
			raw = []interface{}{len(s)}
			break
		}
		for _, part := range strings.Split(s, ",") {
			raw = append(raw, strings.TrimSpace(part))
		}
	default:
		raw = []interface{}{p}
	}

	tiers := make([]int, 0, len(raw))
	for _, item := range raw {
		var n float64
		switch t := item.(type) {
		case string:
			if t != "" && strings.Trim(t, "$") == "" {
				n = float64(len(t))
				break
			}
			parsed, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return nil, errors.NewValidationError(field, fmt.Sprintf("unrecognized price tier %q", t))
			}
			n = parsed
		default:
			parsed, err := number(field, t)
			if err != nil {
				return nil, err
			}
			n = parsed
		}
		if n < MinPriceTier || n > MaxPriceTier || n != math.Trunc(n) {
			return nil, errors.NewValidationError(field, fmt.Sprintf("price tier must be an integer between %d and %d", MinPriceTier, MaxPriceTier))
		}
		tiers = append(tiers, int(n))
	}
	return mergeTiers(nil, tiers), nil
}

// ==========================
// Merge
// ==========================

// MergeQuery folds incoming into existing without mutating either. Present
// scalars in incoming win; set-valued fields union unless incoming lists the
// field in Replace. The result never carries a Replace list.
func MergeQuery(existing, incoming *QueryModel) *QueryModel {
	if existing == nil && incoming == nil {
		return nil
	}
	out := existing.Clone()
	if out == nil {
		out = &QueryModel{}
	}
	out.Replace = nil
	if incoming == nil {
		return out
	}
	in := incoming.Clone()

	if !in.Location.IsZero() {
		out.Location = in.Location
	}
	if in.RadiusMeters != nil {
		out.RadiusMeters = in.RadiusMeters
	}
	if in.MinRating != nil {
		out.MinRating = in.MinRating
	}
	if in.OpenNow != nil {
		out.OpenNow = in.OpenNow
	}
	if in.Cursor != "" {
		out.Cursor = in.Cursor
	}
	if in.Limit != nil {
		out.Limit = in.Limit
	}

	out.Cuisine = mergeSet(out.Cuisine, in.Cuisine, in.replaces(FieldCuisine))
	out.Exclusions = mergeSet(out.Exclusions, in.Exclusions, in.replaces(FieldExclusions))
	if in.replaces(FieldKeywords) {
		out.Keywords = in.Keywords
	} else {
		out.Keywords = appendUniqueFold(out.Keywords, in.Keywords...)
	}
	if in.replaces(FieldPriceTier) {
		out.PriceTier = in.PriceTier
	} else {
		out.PriceTier = mergeTiers(out.PriceTier, in.PriceTier)
	}
	return out
}

func mergeSet(existing, incoming []string, replace bool) []string {
	if replace {
		return incoming
	}
	return appendUnique(existing, incoming...)
}

func mergeTiers(a, b []int) []int {
	if len(a) == 0 && len(b) == 0 {
		return a
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(a)+len(b))
	for _, t := range append(append([]int{}, a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Ints(out)
	return out
}

// ==========================
// Loose value helpers
// ==========================

// present returns the value for key unless it is missing or null.
func present(m map[string]interface{}, key string) (interface{}, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// number coerces v to a finite float64. NaN and infinities are rejected so
// range checks downstream always compare real values.
func number(field string, v interface{}) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, errors.NewValidationError(field, "must be a number")
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, errors.NewValidationError(field, "must be a number")
		}
		f = parsed
	default:
		return 0, errors.NewValidationError(field, "must be a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.NewValidationError(field, "must be a finite number")
	}
	return f, nil
}

func boolean(field string, v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, errors.NewValidationError(field, "must be a boolean")
		}
		return parsed, nil
	default:
		return false, errors.NewValidationError(field, "must be a boolean")
	}
}

// stringList accepts a single string or a list of strings.
func stringList(field string, v interface{}) ([]string, error) {
	var out []string
	switch l := v.(type) {
	case string:
		out = []string{l}
	case []string:
		out = l
	case []interface{}:
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, errors.NewValidationError(field, "must be a list of strings")
			}
			out = append(out, s)
		}
	default:
		return nil, errors.NewValidationError(field, "must be a string or a list of strings")
	}
	cleaned := make([]string, 0, len(out))
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned, nil
}

// NormalizeToken lowercases s and folds spaces and dashes to underscores so
// "Fast Food" and "fast_food" compare equal.
func NormalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func normalizeTokens(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := NormalizeToken(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

func appendUniqueFold(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[strings.ToLower(s)] = true
	}
	for _, s := range items {
		k := strings.ToLower(s)
		if !seen[k] {
			seen[k] = true
			dst = append(dst, s)
		}
	}
	return dst
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
