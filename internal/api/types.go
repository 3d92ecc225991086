package api

import (
	"recipebox/internal/importer"
	"recipebox/pkg/types"
)

// ImportURLRequest is the payload for a URL import.
type ImportURLRequest struct {
	URL string `json:"url"`
}

// ImportResponse returns the extracted recipe for review before saving.
type ImportResponse struct {
	Method     types.ImportMethod `json:"method"`
	Recipe     types.Recipe       `json:"recipe"`
	TokensUsed *int               `json:"tokens_used,omitempty"`
}

func importResponse(res *importer.Result) ImportResponse {
	return ImportResponse{
		Method:     res.Method,
		Recipe:     res.Recipe,
		TokensUsed: res.TokensUsed,
	}
}

// CreateUserRequest registers a new account.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// CreateRecipeRequest saves a reviewed recipe to the caller's collection.
type CreateRecipeRequest struct {
	Recipe       types.Recipe       `json:"recipe"`
	SourceURL    string             `json:"source_url,omitempty"`
	ImportMethod types.ImportMethod `json:"import_method,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
