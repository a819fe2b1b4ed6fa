package httpapi

import (
	"net/http"

	"relief-ussd/internal/service"

	"go.uber.org/zap"
)

// USSDHandler 电信网关回调适配器
// Translates the gateway's form contract (sessionId, phoneNumber,
// cumulative text) into a core advance, and the core's Reply into the
// CON/END framing the gateway renders on the handset.
type USSDHandler struct {
	sessions  *service.SessionService
	phoneSalt string
	logger    *zap.Logger
}

func NewUSSDHandler(sessions *service.SessionService, phoneSalt string, logger *zap.Logger) *USSDHandler {
	return &USSDHandler{
		sessions:  sessions,
		phoneSalt: phoneSalt,
		logger:    logger,
	}
}

const msgGatewayFailure = "END Service temporarily unavailable. Please try again."

// POST /ussd/callback
// form params:
// - sessionId string（网关生成的会话ID）
// - phoneNumber string（原始号码，仅在本边界可见）
// - text string（累计输入，*分隔）
func (h *USSDHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("malformed USSD callback", zap.Error(err))
		writeUSSD(w, http.StatusBadRequest, msgGatewayFailure)
		return
	}

	sessionID := r.PostFormValue("sessionId")
	phoneNumber := r.PostFormValue("phoneNumber")
	text := r.PostFormValue("text")

	if sessionID == "" || phoneNumber == "" {
		h.logger.Warn("USSD callback missing required fields",
			zap.Bool("has_session_id", sessionID != ""),
			zap.Bool("has_phone", phoneNumber != ""),
		)
		writeUSSD(w, http.StatusBadRequest, msgGatewayFailure)
		return
	}

	// Hash at the boundary: the core never sees the raw number.
	phoneHash := HashPhone(phoneNumber, h.phoneSalt)

	reply, err := h.sessions.Advance(ctx, sessionID, phoneHash, text)
	if err != nil {
		// Internal detail stays in the logs and ledger; the caller gets
		// the generic terminal message.
		h.logger.Error("session advance failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeUSSD(w, http.StatusOK, msgGatewayFailure)
		return
	}

	prefix := "END "
	if reply.Continue {
		prefix = "CON "
	}
	writeUSSD(w, http.StatusOK, prefix+reply.Text)
}

func writeUSSD(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
