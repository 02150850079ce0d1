// Package migration はSQLiteデータベースのスキーマ管理を提供する。
// embedされたSQLスクリプトをバージョン順に適用し、適用状態を
// schema_migrationsテーブルで追跡する。
package migration

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"path"
	"sort"
	"strconv"
	"strings"
)

// versionTableDDL は適用済みバージョンを記録するテーブルの定義。
const versionTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
)`

// script は1つのマイグレーションスクリプトを表す。
// ファイル名形式: 000001_label.up.sql
type script struct {
	version int
	label   string
	path    string
}

// Run はdir以下のマイグレーションスクリプトをバージョンの昇順で適用する。
// 適用済みのバージョンはスキップされるため、再実行は安全。
// 各スクリプトはトランザクション内で適用され、失敗時はバージョンが
// 記録されないまま全体がエラーになる。
func Run(db *sql.DB, fsys fs.FS, dir string) error {
	if _, err := db.Exec(versionTableDDL); err != nil {
		return fmt.Errorf("バージョン管理テーブルの作成に失敗: %w", err)
	}

	scripts, err := readScripts(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションスクリプトの読み込みに失敗: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	for _, sc := range scripts {
		if applied[sc.version] {
			continue
		}
		if err := apply(db, fsys, sc); err != nil {
			return fmt.Errorf("マイグレーション %06d_%s の適用に失敗: %w", sc.version, sc.label, err)
		}
		log.Printf("Migration: %06d_%s を適用しました", sc.version, sc.label)
	}

	return nil
}

// readScripts はdir直下の*.up.sqlをバージョン順に収集する。
// 命名規則に合わないファイルは無視する。
func readScripts(fsys fs.FS, dir string) ([]script, error) {
	matches, err := fs.Glob(fsys, path.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, err
	}

	scripts := make([]script, 0, len(matches))
	for _, match := range matches {
		sc, ok := parseScriptName(match)
		if !ok {
			continue
		}
		scripts = append(scripts, sc)
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].version < scripts[j].version
	})
	return scripts, nil
}

// parseScriptName はファイルパスからバージョン番号とラベルを取り出す。
func parseScriptName(p string) (script, bool) {
	base := strings.TrimSuffix(path.Base(p), ".up.sql")
	rawVersion, label, found := strings.Cut(base, "_")
	if !found {
		return script{}, false
	}

	version, err := strconv.Atoi(rawVersion)
	if err != nil {
		return script{}, false
	}
	return script{version: version, label: label, path: p}, true
}

// appliedVersions は記録済みのマイグレーションバージョンの集合を返す。
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// apply は1つのスクリプトの実行とバージョン記録を同一トランザクションで行う。
func apply(db *sql.DB, fsys fs.FS, sc script) error {
	ddl, err := fs.ReadFile(fsys, sc.path)
	if err != nil {
		return fmt.Errorf("スクリプトの読み込みに失敗: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(string(ddl)); err != nil {
		return fmt.Errorf("SQLの実行に失敗: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, sc.version); err != nil {
		return fmt.Errorf("バージョンの記録に失敗: %w", err)
	}

	return tx.Commit()
}
