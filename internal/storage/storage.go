// Package storage はボードのサムネイル画像を保存するBlobストアを提供する。
package storage

import (
	"context"
	"errors"
	"strings"
)

// RefPrefix はBlobストア上のオブジェクトを指すサムネイル参照の接頭辞。
const RefPrefix = "blob:"

// ErrNotFound は指定キーのオブジェクトが存在しない場合に返される。
var ErrNotFound = errors.New("object not found")

// Object はBlobストアから取得したオブジェクト。
type Object struct {
	Data        []byte
	ContentType string
}

// ThumbnailStore はサムネイル画像の保存先を抽象化する。
type ThumbnailStore interface {
	// Put はオブジェクトを保存する。同じキーが存在する場合は上書きする。
	Put(ctx context.Context, key, contentType string, data []byte) error
	// Get はオブジェクトを取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) (*Object, error)
	// Remove はオブジェクトを削除する。存在しない場合もエラーにしない。
	Remove(ctx context.Context, key string) error
}

// Ref はオブジェクトキーからサムネイル参照文字列を生成する。
func Ref(key string) string {
	return RefPrefix + key
}

// KeyFromRef はサムネイル参照からオブジェクトキーを取り出す。
// Blobストアを指す参照でなければfalseを返す。
func KeyFromRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, RefPrefix) {
		return "", false
	}
	key := strings.TrimPrefix(ref, RefPrefix)
	if key == "" {
		return "", false
	}
	return key, true
}

// OwnerKeyPrefix は所有者のオブジェクトキーの接頭辞を返す。
func OwnerKeyPrefix(ownerID string) string {
	return ownerID + "/"
}

// OwnedKeyFromRef はサムネイル参照が所有者のオブジェクトを指す場合にのみキーを返す。
func OwnedKeyFromRef(ownerID, ref string) (string, bool) {
	key, ok := KeyFromRef(ref)
	if !ok || ownerID == "" || !strings.HasPrefix(key, OwnerKeyPrefix(ownerID)) {
		return "", false
	}
	return key, true
}
