package negotiation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

// InviteLink builds the join link handed to the counterpart of inviter.
func InviteLink(baseURL, sessionID string, inviter domain.Role) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if !inviter.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", domain.ErrValidation, inviter)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base url: %v", domain.ErrValidation, err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	q.Set("role", string(inviter.Counterpart()))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseInviteLink extracts the session id and role from a join link. A bare
// query string ("session=..&role=..") is accepted too.
func ParseInviteLink(link string) (string, domain.Role, error) {
	link = strings.TrimSpace(link)
	var q url.Values
	if strings.Contains(link, "://") || strings.HasPrefix(link, "/") || strings.HasPrefix(link, "?") {
		u, err := url.Parse(link)
		if err != nil {
			return "", "", fmt.Errorf("%w: invalid link: %v", domain.ErrValidation, err)
		}
		q = u.Query()
	} else {
		var err error
		q, err = url.ParseQuery(link)
		if err != nil {
			return "", "", fmt.Errorf("%w: invalid link: %v", domain.ErrValidation, err)
		}
	}

	sessionID := q.Get("session")
	role := domain.Role(q.Get("role"))
	if sessionID == "" {
		return "", "", fmt.Errorf("%w: link has no session", domain.ErrValidation)
	}
	if !role.Valid() {
		return "", "", fmt.Errorf("%w: link has unknown role %q", domain.ErrValidation, role)
	}
	return sessionID, role, nil
}
