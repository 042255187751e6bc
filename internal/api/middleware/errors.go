package middleware

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/p2ptransfers/internal/domain"
)

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindAccountNotFound, domain.KindTransactionNotFound, domain.KindPartyNotFound:
		return http.StatusNotFound
	case domain.KindInvalidTransfer, domain.KindInvalidState, domain.KindInsufficientFunds,
		domain.KindAccountInactive, domain.KindInvalidAccountName:
		return http.StatusBadRequest
	case domain.KindStoreTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

// WriteDomainError writes err as {"error", "kind"}. Infrastructure failures
// are logged and their details withheld from the client.
func WriteDomainError(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := domain.KindOf(err)
	status := StatusFor(kind)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Request failed")
		message = string(kind)
	} else {
		log.Debug().Err(err).Str("kind", string(kind)).Msg("Request rejected")
	}

	WriteJSON(w, status, map[string]string{
		"error": message,
		"kind":  string(kind),
	})
}
