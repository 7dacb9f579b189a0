package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewURLGuard(t *testing.T) {
	if NewURLGuard() == nil {
		t.Fatal("NewURLGuard() returned nil")
	}
}

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	timeout := 5 * time.Second
	client := NewURLGuard().NewSafeClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
}

// safeurlはDialerのControlフックで検証するため、標準Transportではないこと
func TestNewSafeClientHasTransport(t *testing.T) {
	client := NewURLGuard().NewSafeClient(5 * time.Second)

	if client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewURLGuard().NewSafeClient(5 * time.Second)

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewURLGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"公開HTTPS", "https://example.com/feed.xml", false},
		{"公開HTTP", "http://blog.example.org/rss", false},
		{"公開IP", "https://93.184.216.34/feed", false},
		{"空文字", "", true},
		{"空白のみ", "   ", true},
		{"不正なスキーム", "ftp://example.com/feed", true},
		{"javascriptスキーム", "javascript:alert(1)", true},
		{"ホストなし", "https:///feed", true},
		{"プライベートIP 10系", "http://10.0.0.1/feed", true},
		{"プライベートIP 172系", "http://172.16.5.4/feed", true},
		{"プライベートIP 192系", "http://192.168.1.1/feed", true},
		{"ループバック", "http://127.0.0.1:8080/feed", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data", true},
		{"ゼロアドレス", "http://0.0.0.0/", true},
		{"IPv6ループバック", "http://[::1]/feed", true},
		{"IPv4射影IPv6ループバック", "http://[::ffff:127.0.0.1]/feed", true},
		{"localhost", "http://localhost/feed", true},
		{"localhostサブドメイン", "http://api.localhost/feed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
