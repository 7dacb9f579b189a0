package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIToken(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"正しいトークン", "t0ken", "Bearer t0ken", http.StatusOK},
		{"ヘッダーなし", "t0ken", "", http.StatusUnauthorized},
		{"トークン不一致", "t0ken", "Bearer other", http.StatusUnauthorized},
		{"Bearer以外の形式", "t0ken", "t0ken", http.StatusUnauthorized},
		{"未設定なら常に拒否", "", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewAPITokenMiddleware(tt.token)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/commands", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if called != (tt.want == http.StatusOK) {
				t.Errorf("next called = %v", called)
			}
			if tt.want == http.StatusUnauthorized {
				var body ErrorResponseBody
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode body: %v", err)
				}
				if body.Code != "UNAUTHORIZED" {
					t.Errorf("code = %q, want UNAUTHORIZED", body.Code)
				}
			}
		})
	}
}
