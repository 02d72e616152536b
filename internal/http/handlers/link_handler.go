package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avecha/wikigate/internal/services"
)

// linkResponse reports the outcome of a completed link handshake.
type linkResponse struct {
	UserID        int64 `json:"user_id"`
	LinkedAccount int64 `json:"linked_account"`
	Confirmed     bool  `json:"confirmed"`
}

// CompleteLink finishes a pending account-link handshake. This is the HTTP
// counterpart of the inline-button press: an external identity flow redirects
// the user here with the token the confirmation request handed out.
//
//	GET /link/:token
func (h *Handler) CompleteLink(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing token")
		return
	}

	userID, found := h.Links.Owner(token)
	if !found || !h.Links.Complete(token) {
		fail(c, http.StatusGone, ErrCodeLinkExpired, "link expired or already used")
		return
	}

	rec, err := h.Gate.CompleteConfirmation(c.Request.Context(), userID)
	switch {
	case err == nil:
		ok(c, http.StatusOK, linkResponse{
			UserID:        rec.UserID,
			LinkedAccount: rec.LinkedAccount,
			Confirmed:     rec.Confirmed,
		})
	case errors.Is(err, services.ErrIdentityAlreadyLinked):
		fail(c, http.StatusConflict, ErrCodeConflict, "account already linked to another user")
	case errors.Is(err, services.ErrIdentityNotEligible):
		fail(c, http.StatusForbidden, ErrCodeNotEligible, "account does not meet the activity requirements")
	case errors.Is(err, services.ErrVerificationTransport):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, "identity provider unreachable")
	case errors.Is(err, services.ErrSessionLost):
		fail(c, http.StatusGone, ErrCodeLinkExpired, "link expired or already used")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "confirmation failed")
	}
}
