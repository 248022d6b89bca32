package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/Rrens/genai-platform/internal/api/middleware"
	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

const maxBodyBytes = 64 << 20

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into v and validates it. It writes the error
// response and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			response.BadRequest(w, "request body too large")
			return false
		}
		response.BadRequest(w, "invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		// maps and slices carry no tags
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return true
		}
		response.BadRequest(w, validationMessages(err))
		return false
	}
	return true
}

func validationMessages(err error) any {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	errs := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			errs[field] = "field is required"
		case "min":
			errs[field] = "must be at least " + e.Param()
		case "max":
			errs[field] = "must be at most " + e.Param()
		case "oneof":
			errs[field] = "must be one of " + e.Param()
		case "url":
			errs[field] = "must be a valid URL"
		default:
			errs[field] = "validation failed on " + e.Tag()
		}
	}
	return errs
}

// caller returns the authenticated user id or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return "", false
	}
	return userID, true
}

// listOptions parses offset, limit, sortby and sortorder.
func listOptions(r *http.Request) (domain.ListOptions, error) {
	q := r.URL.Query()
	var opts domain.ListOptions
	for name, dst := range map[string]*int{"offset": &opts.Offset, "limit": &opts.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return opts, domain.Invalid("%s must be a non-negative integer", name)
		}
		*dst = v
	}
	if opts.Limit > domain.MaxPageLimit {
		return opts, domain.Invalid("limit must be at most %d", domain.MaxPageLimit)
	}
	opts.SortBy = q.Get("sortby")
	switch order := strings.ToLower(q.Get("sortorder")); order {
	case "", "asc", "desc":
		opts.SortOrder = order
	default:
		return opts, domain.Invalid("sortorder must be asc or desc")
	}
	return opts.Normalize(), nil
}

// pageOptions parses list options or writes a 400.
func pageOptions(w http.ResponseWriter, r *http.Request) (domain.ListOptions, bool) {
	opts, err := listOptions(r)
	if err != nil {
		response.FromError(w, r, err)
		return opts, false
	}
	return opts, true
}
