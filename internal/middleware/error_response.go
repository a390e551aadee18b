package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// errorフィールドにはステータスコードに対応する標準的な理由句を設定する。
type ErrorResponseBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		StatusCode: statusCode,
		Error:      http.StatusText(statusCode),
		Message:    message,
	})
}

// WriteAppError はAppErrorをHTTPレスポンスへ写像する。
// AppError以外のエラーは内部エラーとして扱い、詳細を漏らさない。
func WriteAppError(w http.ResponseWriter, err error) {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		WriteErrorResponse(w, appErr.Status, appErr.Message)
		return
	}
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "Internal Server Error")
}
