package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はコマンド受付サーバーと定期ジョブを1プロセスで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandMatch はマッチングを1回だけ実行して通知を配信することを示す。
	CommandMatch Command = "match"
	// CommandReap は非アクティブ参加者の削除を1回だけ実行することを示す。
	CommandReap Command = "reap"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "match":
		return CommandMatch
	case "reap":
		return CommandReap
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
