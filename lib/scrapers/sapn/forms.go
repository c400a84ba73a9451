package sapn

import (
	"bytes"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

type loginForm struct {
	Action string
	Hidden map[string]string
}

// extractLoginForm pulls the form action and every hidden input out of
// the login page. Visualforce stashes its state (com.salesforce.visualforce.ViewState
// and friends) in hidden fields that must be echoed back verbatim.
func extractLoginForm(page []byte) (loginForm, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return loginForm{}, err
	}

	form := findLoginForm(doc)
	if form == nil {
		return loginForm{}, &AuthError{Reason: "login form not found"}
	}

	hidden := map[string]string{}
	form.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		hidden[name] = input.AttrOr("value", "")
	})

	return loginForm{
		Action: form.AttrOr("action", ""),
		Hidden: hidden,
	}, nil
}

// the login form is whichever form carries a password input
func findLoginForm(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		if form.Find("input[type=password]").Length() > 0 {
			found = form
			return false
		}
		return true
	})
	return found
}

func hasLoginForm(page []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return false
	}
	return findLoginForm(doc) != nil
}

// the portal navigates with inline scripts rather than HTTP redirects:
// either `window.location = '...'`, `window.location.replace = '...'`
// or `window.location.replace('...')`
var jsRedirectRegex = regexp.MustCompile(`window\.location(?:\.replace)?\s*=\s*'([^']+)'|window\.location\.replace\('([^']+)'\)`)

func jsRedirectTarget(body string) string {
	groups := jsRedirectRegex.FindStringSubmatch(body)
	if groups == nil {
		return ""
	}
	if groups[1] != "" {
		return groups[1]
	}
	return groups[2]
}
