package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrProctorAccessOnly ErrCode = "PROCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrInvalidEntryToken ErrCode = "INVALID_ENTRY_TOKEN"
	ErrExamNotPublished  ErrCode = "EXAM_NOT_PUBLISHED"
	ErrNoQuestions       ErrCode = "NO_QUESTIONS"
	ErrExamNotDraft      ErrCode = "EXAM_NOT_DRAFT"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrNoSession          ErrCode = "SESSION_NOT_FOUND"
	ErrNoLiveSession      ErrCode = "LIVE_SESSION_NOT_FOUND"
	ErrSessionCompleted   ErrCode = "SESSION_COMPLETED"
	ErrSessionClosed      ErrCode = "SESSION_CLOSED"
	ErrPreflightFailed    ErrCode = "PREFLIGHT_FAILED"
	ErrAlreadyStarted     ErrCode = "SESSION_ALREADY_STARTED"
	ErrSessionNotActive   ErrCode = "SESSION_NOT_ACTIVE"
	ErrInputBlocked       ErrCode = "INPUT_BLOCKED"
	ErrNoWarning          ErrCode = "NO_WARNING"
	ErrQuestionOutOfRange ErrCode = "QUESTION_OUT_OF_RANGE"
	ErrInvalidOption      ErrCode = "INVALID_OPTION"
	ErrQuestionsNotReady  ErrCode = "QUESTIONS_NOT_READY"
	ErrInvalidReason      ErrCode = "INVALID_SUBMIT_REASON"
	ErrNotLocked          ErrCode = "SESSION_NOT_LOCKED"
	ErrNoRetry            ErrCode = "NO_FAILED_SUBMISSION"
	ErrSessionLocked      ErrCode = "SESSION_LOCKED"
	ErrSubjectMoved       ErrCode = "SUBJECT_MOVED"
	ErrUpstream           ErrCode = "UPSTREAM_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrSessionActive:
		return "Anda sudah login di perangkat lain."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrProctorAccessOnly:
		return "Sumber daya ini terbatas untuk pengawas."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrUnknownAction:
		return "Aksi tidak dikenal."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrInvalidEntryToken:
		return "Token masuk ujian tidak valid."
	case ErrExamNotPublished:
		return "Ujian ini belum dipublikasikan."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrExamNotDraft:
		return "Ujian ini tidak dalam status DRAFT."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrNoSession:
		return "Anda belum bergabung dengan ujian ini."
	case ErrNoLiveSession:
		return "Tidak ada sesi ujian yang sedang berjalan."
	case ErrSessionCompleted:
		return "Ujian ini sudah selesai Anda kerjakan."
	case ErrSessionClosed:
		return "Sesi ujian sudah ditutup."
	case ErrPreflightFailed:
		return "Perangkat atau browser Anda tidak memenuhi syarat ujian."
	case ErrAlreadyStarted:
		return "Sesi ujian sudah dimulai."
	case ErrSessionNotActive:
		return "Sesi ujian tidak menerima jawaban saat ini."
	case ErrInputBlocked:
		return "Kembali ke mode layar penuh untuk melanjutkan ujian."
	case ErrNoWarning:
		return "Tidak ada peringatan yang perlu dikonfirmasi."
	case ErrQuestionOutOfRange:
		return "Nomor soal di luar jangkauan."
	case ErrInvalidOption:
		return "Pilihan jawaban tidak valid."
	case ErrQuestionsNotReady:
		return "Soal untuk mata uji ini belum dimuat."
	case ErrInvalidReason:
		return "Alasan pengumpulan tidak valid."
	case ErrNotLocked:
		return "Peninjauan pengawas hanya untuk sesi yang terkunci."
	case ErrNoRetry:
		return "Tidak ada pengumpulan gagal yang bisa diulang."
	case ErrSessionLocked:
		return "Sesi ujian Anda terkunci karena pelanggaran. Hubungi pengawas."
	case ErrSubjectMoved:
		return "Mata uji sudah berganti. Muat ulang halaman ujian."
	case ErrUpstream:
		return "Server sedang tidak dapat dihubungi. Silakan coba lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
