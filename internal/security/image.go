package security

import (
	"bytes"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen 与 mimetype 默认读取上限一致
const sniffLen = 3072

// unknownType 无法识别的二进制内容
const unknownType = "application/octet-stream"

// SniffImage 读取内容头部判断能否作为图片保存。
//
// 识别为图片（含 svg、heic、avif）或无法识别格式的二进制内容都会被接受，
// 只有明确识别为其他类型（html、文本、压缩包等）时返回 false。
// 返回的 Reader 会重新拼接已读取的头部，调用方应使用它继续读取完整内容。
func SniffImage(r io.Reader) (io.Reader, string, bool, error) {
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, "", false, err
	}
	header = header[:n]
	rest := io.MultiReader(bytes.NewReader(header), r)

	if n == 0 {
		return rest, "", false, nil
	}

	detected := mimetype.Detect(header)
	return rest, detected.String(), acceptAsImage(detected), nil
}

func acceptAsImage(detected *mimetype.MIME) bool {
	if detected.Is(unknownType) {
		return true
	}
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}
