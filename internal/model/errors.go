// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable はバッキングストアが利用できないことを示すセンチネルエラー。
// リポジトリ層のエラーはこのエラーをラップして伝播する。
// コアは内部でリトライせず、リトライ方針は外部スケジューラに委ねる。
var ErrStoreUnavailable = errors.New("backing store unavailable")

// StoreError はバッキングストア操作の失敗を表す。
// errors.Is(err, ErrStoreUnavailable) で判定できる。
type StoreError struct {
	Op  string // 失敗した操作の説明
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is はErrStoreUnavailableとの同一性判定を提供する。
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// ValidationError は致命的でリトライ不能な入力検証エラーを表す。
// タスクは即座に中断され、部分的な書き込みは行われない。
type ValidationError struct {
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return e.Message
}

// NewSiteNotFoundError は存在しないサイトを指定した場合のエラーを生成する。
func NewSiteNotFoundError(siteID int64) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf("site %d not found", siteID),
	}
}

// NewInvalidShardIndexError は範囲外のシャードインデックスを指定した場合のエラーを生成する。
func NewInvalidShardIndexError(shardIndex, shardCount int) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf("invalid shard index %d: must be in [0, %d)", shardIndex, shardCount),
	}
}

// IsValidation はエラーがValidationErrorかどうかを判定する。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PipelineError は生成パイプラインの配布/組み立てフェーズでの失敗を表す。
// GenerationMeta.Error に記録され、読み手には「キャッシュなし」としてのみ現れる。
type PipelineError struct {
	Phase string // "scan", "distribute", "assemble"
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *PipelineError) Error() string {
	return fmt.Sprintf("feed pipeline %s failed: %v", e.Phase, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *PipelineError) Unwrap() error {
	return e.Err
}
