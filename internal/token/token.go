// Package token validates the display metadata of a pool's token: its
// name, ticker symbol, and image reference.
package token

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/atmx/amm-engine/internal/model"
)

// MaxNameLen is the longest token name accepted, in runes.
const MaxNameLen = 64

// symbolRegex matches an uppercase ticker of 2–10 characters that starts
// with a letter. Example: MANI, AI2027
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

var (
	ErrInvalidName   = errors.New("token: name must be 1-64 characters")
	ErrInvalidSymbol = errors.New("token: symbol must be 2-10 uppercase letters or digits")
	ErrInvalidImage  = errors.New("token: image must be an http(s) URL")
)

// Metadata is the caller-supplied description of a new token.
type Metadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	ImageRef string `json:"image_ref,omitempty"`
}

// Normalize trims whitespace and uppercases the symbol.
func (m Metadata) Normalize() Metadata {
	return Metadata{
		Name:     strings.TrimSpace(m.Name),
		Symbol:   strings.ToUpper(strings.TrimSpace(m.Symbol)),
		ImageRef: strings.TrimSpace(m.ImageRef),
	}
}

// Validate normalizes and checks m. Every failure wraps
// model.ErrInvalidToken so callers can classify it as a user error.
func Validate(m Metadata) (Metadata, error) {
	m = m.Normalize()

	if n := utf8.RuneCountInString(m.Name); n == 0 || n > MaxNameLen {
		return m, fmt.Errorf("%w: %w", model.ErrInvalidToken, ErrInvalidName)
	}
	if !symbolRegex.MatchString(m.Symbol) {
		return m, fmt.Errorf("%w: %w: %q", model.ErrInvalidToken, ErrInvalidSymbol, m.Symbol)
	}
	if m.ImageRef != "" {
		u, err := url.Parse(m.ImageRef)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return m, fmt.Errorf("%w: %w", model.ErrInvalidToken, ErrInvalidImage)
		}
	}
	return m, nil
}
