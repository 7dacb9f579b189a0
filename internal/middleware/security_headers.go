package middleware

import "net/http"

// apiSecurityHeaders はJSON APIとWebhookの応答に付与するヘッダー。
// HTMLを返さないため、CSPは全リソースを拒否する。
var apiSecurityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
}

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// /metrics はPrometheusのスクレイプ用のためCache-Controlのみ付与しない。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range apiSecurityHeaders {
				if k == "Cache-Control" && r.URL.Path == "/metrics" {
					continue
				}
				h.Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
