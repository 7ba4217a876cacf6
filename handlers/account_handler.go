package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/transcriber-gateway/gateway"
	"github.com/upb/transcriber-gateway/internal/observability"
	"github.com/upb/transcriber-gateway/utils"
	"go.uber.org/zap"
)

// AccountResponse is returned once the gate has admitted an account request
type AccountResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// AccountHandler serves the account endpoint behind the gateway
type AccountHandler struct {
	logger *zap.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(logger *zap.Logger) *AccountHandler {
	return &AccountHandler{logger: logger}
}

// HandleProcess handles POST /api/useraccount
func (h *AccountHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	cred, err := gateway.ExtractCredential(r)
	switch {
	case errors.Is(err, gateway.ErrMissingCredential), errors.Is(err, gateway.ErrMalformedCredential):
		_ = utils.WriteUnauthorized(w, "Unauthorized")
		return
	case errors.Is(err, gateway.ErrMissingSubjectID):
		_ = utils.WriteBadRequest(w, gateway.ReasonMissingSubjectID.Message())
		return
	case errors.Is(err, gateway.ErrMalformedRequestBody):
		_ = utils.WriteBadRequest(w, gateway.ReasonMalformedRequestBody.Message())
		return
	case err != nil:
		logger.Error("failed to process user account", zap.Error(err))
		_ = utils.WriteInternalServerError(w)
		return
	}

	logger.Info("user account processed", zap.String("subject_id", cred.ClaimedSubjectID))
	if err := utils.WriteOK(w, AccountResponse{
		Message: "User account processed successfully",
		UserID:  cred.ClaimedSubjectID,
	}); err != nil {
		logger.Error("failed to write account response", zap.Error(err))
	}
}
