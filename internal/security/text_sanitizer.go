package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は参加者が入力する自由記述（プロフィール、トピック）や
// フィードから取り込んだタイトルをプレーンテキストに正規化する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、連続する空白を1つにまとめ、前後の空白を取り除く。
	// 改行はプロフィールの段落として残す。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使うTextSanitizer実装。
// bluemonday.Policyはスレッドセーフなので共有してよい。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグ除去後にHTMLエンティティを戻してプレーンテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))

	lines := strings.Split(strings.ReplaceAll(stripped, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
