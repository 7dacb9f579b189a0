package matching

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultMeetBaseURL はミーティングリンクの既定のベースURL。
const DefaultMeetBaseURL = "https://meet.google.com/lookup/"

// NewLinkGenerator はbaseURLにランダムなトークンを付けたリンクを返す関数を生成する。
// リンクは案内用であり、アクセス制御には使わない。
func NewLinkGenerator(baseURL string) func() string {
	if baseURL == "" {
		baseURL = DefaultMeetBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return func() string {
		return baseURL + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
}
