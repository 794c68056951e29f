package storage

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidDataURL はdata URLの形式が不正な場合に返される。
var ErrInvalidDataURL = errors.New("invalid data URL")

// IsDataURL は文字列がdata URLかどうかを返す。
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// ParseDataURL は data:<mime>;base64,<payload> 形式を解析し、MIMEタイプとデコード済みデータを返す。
// base64以外のエンコーディングは受け付けない。
func ParseDataURL(s string) (string, []byte, error) {
	if !IsDataURL(s) {
		return "", nil, ErrInvalidDataURL
	}

	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}

	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, ErrInvalidDataURL
	}
	return mime, data, nil
}

// thumbnailExtensions はBlobストアへ保存できる画像形式と拡張子。
// スクリプトを含み得るimage/svg+xmlやtext/htmlは受け付けない。
var thumbnailExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// IsThumbnailType はMIMEタイプがサムネイルとして保存・配信できる画像形式かを返す。
func IsThumbnailType(mime string) bool {
	_, ok := thumbnailExtensions[mime]
	return ok
}

// ExtensionFor はMIMEタイプに対応するファイル拡張子を返す。保存できない形式の場合は空文字。
func ExtensionFor(mime string) string {
	return thumbnailExtensions[mime]
}
