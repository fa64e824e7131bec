package web

import (
	"embed"
	"html/template"

	"github.com/openkcm/login-portal/internal/serviceerr"
)

//go:embed views/*.html
var viewFS embed.FS

var views = template.Must(template.ParseFS(viewFS, "views/*.html"))

type loginView struct {
	Title string
	Error string
}

type homeView struct {
	Title       string
	DisplayName string
	CSRFToken   string
}

// errorCaption maps a sign-in failure to the caption shown on the
// login view. The captions are deliberately vague; the details only go
// to the log.
func errorCaption(code serviceerr.Code) string {
	switch code {
	case serviceerr.CodeUserCancelled:
		return "Sign-in was cancelled."
	case serviceerr.CodeNetwork:
		return "Could not reach the sign-in service. Check your connection and try again."
	case serviceerr.CodeServerRejected, serviceerr.CodeInvalidToken:
		return "The sign-in service rejected the request. Please try again."
	case serviceerr.CodeStateExpired:
		return "The sign-in attempt expired. Please try again."
	case serviceerr.CodeFingerprintMismatch:
		return "This sign-in was started in a different browser. Please try again."
	case serviceerr.CodeConfiguration:
		return "The application is not configured for sign-in."
	default:
		return "Something went wrong. Please try again."
	}
}
