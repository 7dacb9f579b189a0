// Package command は参加者・運営者から届くコマンドを解釈し、各サービスを呼び出す。
// Telegram WebhookとJSON APIの両方から共通で利用する。
package command

import (
	"strings"
	"unicode"

	"github.com/hitoshi/meetpair/internal/model"
)

// Verb はコマンドの種類を表す。
type Verb string

const (
	VerbRegister          Verb = "register"
	VerbUnregister        Verb = "unregister"
	VerbSetProfile        Verb = "set-profile"
	VerbSuggestTopic      Verb = "suggest-topic"
	VerbRequestSkipNext   Verb = "request-skip-next"
	VerbViewStats         Verb = "view-stats"
	VerbViewTopics        Verb = "view-topics"
	VerbViewLeaderboard   Verb = "view-leaderboard"
	VerbOperatorViewCount Verb = "operator-view-count"
	VerbOperatorList      Verb = "operator-list"
	VerbOperatorImport    Verb = "operator-import-topics"
	VerbHelp              Verb = "help"
)

// Command は1件の受信コマンド。
type Command struct {
	Verb          Verb
	ParticipantID int64
	DisplayName   string
	Argument      string
}

// Reply はコマンドへの応答。
type Reply struct {
	Text string
}

// slashCommands はチャットのスラッシュコマンドとVerbの対応。
var slashCommands = map[string]Verb{
	"/start":   VerbRegister,
	"/stop":    VerbUnregister,
	"/profile": VerbSetProfile,
	"/suggest": VerbSuggestTopic,
	"/skip":    VerbRequestSkipNext,
	"/stats":   VerbViewStats,
	"/topics":  VerbViewTopics,
	"/top":     VerbViewLeaderboard,
	"/count":   VerbOperatorViewCount,
	"/list":    VerbOperatorList,
	"/import":  VerbOperatorImport,
	"/help":    VerbHelp,
}

var knownVerbs = func() map[Verb]bool {
	m := make(map[Verb]bool, len(slashCommands))
	for _, v := range slashCommands {
		m[v] = true
	}
	return m
}()

// ParseVerb は文字列をVerbとして検証する。
func ParseVerb(s string) (Verb, error) {
	v := Verb(strings.ToLower(strings.TrimSpace(s)))
	if !knownVerbs[v] {
		return "", model.NewInvalidCommandError("不明なコマンドです: " + s)
	}
	return v, nil
}

// ParseText はチャットのメッセージ本文（"/suggest トピック" など）をVerbと引数に分解する。
// "/start@botname" のようなボット名付きの形式も受け付ける。
func ParseText(text string) (Verb, string, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", model.NewInvalidCommandError("コマンドは / で始めてください")
	}

	head, arg := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, arg = text[:i], text[i:]
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}

	verb, ok := slashCommands[strings.ToLower(head)]
	if !ok {
		return "", "", model.NewInvalidCommandError("不明なコマンドです: " + head)
	}
	return verb, strings.TrimSpace(arg), nil
}

// HelpText はコマンド一覧の説明文。
const HelpText = `使えるコマンド:
/start - 参加登録
/stop - 参加をやめる
/profile <自己紹介> - プロフィールを設定（空で削除）
/suggest <トピック> - トピックを提案（一定期間に1回まで）
/skip - 次回のマッチングを休む
/stats - 自分の統計を見る
/topics - トピックの一覧
/top - ランキング
/help - このヘルプ`
