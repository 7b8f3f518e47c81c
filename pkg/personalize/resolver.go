// Package personalize substitutes personalization tokens in template text.
//
// Recognized tokens are case-sensitive and brace-delimited: {name},
// {location}, {instagram}, {followers} and {product}. Anything else is left
// verbatim so authors can write literal braces.
package personalize

import (
	"strconv"
	"strings"

	"github.com/jordanlanch/outreach/pkg/models"
)

// Token spellings authors compose templates around.
const (
	TokenName      = "{name}"
	TokenLocation  = "{location}"
	TokenInstagram = "{instagram}"
	TokenFollowers = "{followers}"
	TokenProduct   = "{product}"
)

// Tokens lists every recognized token.
var Tokens = []string{TokenName, TokenLocation, TokenInstagram, TokenFollowers, TokenProduct}

// Fields is the contact-like record a template is resolved against.
// Missing optional values resolve to the empty string.
type Fields struct {
	Name            string
	Location        string
	InstagramHandle string
	Followers       *int
}

// FieldsFromContact extracts resolver fields from a contact snapshot.
func FieldsFromContact(c *models.Contact) Fields {
	if c == nil {
		return Fields{}
	}
	return Fields{
		Name:            c.Name,
		Location:        c.Location,
		InstagramHandle: c.InstagramHandle,
		Followers:       c.Followers,
	}
}

// Resolve replaces every occurrence of every recognized token in text.
// Substituted values are never rescanned, so a contact named "{product}"
// stays literal.
func Resolve(text string, f Fields, productName string) string {
	if !strings.Contains(text, "{") {
		return text
	}

	followers := ""
	if f.Followers != nil {
		followers = strconv.Itoa(*f.Followers)
	}

	r := strings.NewReplacer(
		TokenName, f.Name,
		TokenLocation, f.Location,
		TokenInstagram, f.InstagramHandle,
		TokenFollowers, followers,
		TokenProduct, productName,
	)
	return r.Replace(text)
}

// Rendered is a resolved subject/body pair.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ResolveTemplate applies Resolve to both subject and body of a template.
func ResolveTemplate(t *models.EmailTemplate, f Fields, productName string) Rendered {
	return Rendered{
		Subject: Resolve(t.Subject, f, productName),
		Body:    Resolve(t.Body, f, productName),
	}
}

// UnknownTokens returns brace-delimited words in text that are not recognized
// tokens, in order of first appearance. Useful for flagging typos in editors.
func UnknownTokens(text string) []string {
	var unknown []string
	seen := make(map[string]bool)

	for {
		start := strings.IndexByte(text, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(text[start:], '}')
		if end < 0 {
			break
		}
		candidate := text[start : start+end+1]
		text = text[start+end+1:]

		if len(candidate) <= 2 || strings.ContainsAny(candidate[1:len(candidate)-1], "{ \t\n") {
			continue
		}
		if isKnown(candidate) || seen[candidate] {
			continue
		}
		seen[candidate] = true
		unknown = append(unknown, candidate)
	}

	return unknown
}

func isKnown(token string) bool {
	for _, t := range Tokens {
		if t == token {
			return true
		}
	}
	return false
}
