package response

import "net/http"

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrAdminAccessOnly ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session access ────────────────────────────────────────────────
	ErrSessionNotFound  ErrCode = "SESSION_NOT_FOUND"
	ErrSessionUsed      ErrCode = "SESSION_ALREADY_USED"
	ErrSessionCompleted ErrCode = "SESSION_ALREADY_COMPLETED"
	ErrSessionInactive  ErrCode = "SESSION_INACTIVE"
	ErrExamNotAvailable ErrCode = "EXAM_NOT_AVAILABLE"
	ErrNoQuestions      ErrCode = "NO_QUESTIONS"

	// ─── Session commands ──────────────────────────────────────────────
	ErrSessionTerminated  ErrCode = "SESSION_TERMINATED"
	ErrNotInProgress      ErrCode = "SESSION_NOT_IN_PROGRESS"
	ErrNothingToSubmit    ErrCode = "NOTHING_TO_SUBMIT"
	ErrQuestionOutOfRange ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrUnknownAction      ErrCode = "UNKNOWN_ACTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal           ErrCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Session access ────────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Kode akses ujian tidak ditemukan."
	case ErrSessionUsed:
		return "Kode akses ini sudah digunakan."
	case ErrSessionCompleted:
		return "Ujian untuk kode akses ini sudah selesai."
	case ErrSessionInactive:
		return "Sesi ujian ini tidak aktif."
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."

	// ─── Session commands ──────────────────────────────────────────────
	case ErrSessionTerminated:
		return "Sesi ujian telah berakhir."
	case ErrNotInProgress:
		return "Sesi ujian tidak sedang berlangsung."
	case ErrNothingToSubmit:
		return "Belum ada jawaban untuk dikumpulkan."
	case ErrQuestionOutOfRange:
		return "Nomor soal tidak valid."
	case ErrUnknownAction:
		return "Aksi tidak dikenal."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	case ErrServiceUnavailable:
		return "Server sedang dihentikan. Silakan coba lagi sebentar lagi."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}

// StatusFor returns the HTTP status an error code is usually sent with.
func StatusFor(code ErrCode) int {
	switch code {
	case ErrTokenRequired, ErrTokenInvalid, ErrTokenExpired:
		return http.StatusUnauthorized
	case ErrAdminAccessOnly:
		return http.StatusForbidden
	case ErrValidation, ErrInvalidID, ErrInvalidPayload, ErrQuestionOutOfRange, ErrUnknownAction, ErrNothingToSubmit:
		return http.StatusBadRequest
	case ErrNotFound, ErrSessionNotFound:
		return http.StatusNotFound
	case ErrSessionUsed, ErrSessionCompleted, ErrSessionTerminated, ErrNotInProgress:
		return http.StatusConflict
	case ErrSessionInactive, ErrExamNotAvailable, ErrNoQuestions:
		return http.StatusForbidden
	case ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
