package admission

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// supportedImageExt maps a data URI's MIME subtype to a file extension the
// adapter's upload helper accepts.
var supportedImageExt = map[string]string{
	"png":  ".png",
	"jpeg": ".jpg",
	"jpg":  ".jpg",
	"gif":  ".gif",
	"webp": ".webp",
}

// decodeDataURIsToFiles writes each "data:image/...;base64,..." URI to a
// temp file under dir and returns the resulting paths, in order. The
// Adapter Contract takes image paths, not inline data, because the
// human-emulating upload helper is file-based.
func decodeDataURIsToFiles(dir string, dataURIs []string) ([]string, error) {
	if len(dataURIs) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("admission: failed to create temp image dir: %w", err)
	}

	paths := make([]string, 0, len(dataURIs))
	for i, uri := range dataURIs {
		ext, body, err := splitDataURI(uri)
		if err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("admission: image %d is not valid base64: %w", i, err)
		}
		name := fmt.Sprintf("upload-%d-%d%s", time.Now().UnixNano(), i, ext)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("admission: failed to write temp image: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func splitDataURI(uri string) (ext string, body string, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", fmt.Errorf("admission: image_url is not an inline data URI")
	}
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return "", "", fmt.Errorf("admission: malformed data URI")
	}
	header := uri[len("data:"):comma]
	body = uri[comma+1:]

	mimeType := strings.SplitN(header, ";", 2)[0]
	sub := mimeType
	if idx := strings.IndexByte(mimeType, '/'); idx >= 0 {
		sub = mimeType[idx+1:]
	}
	ext, ok := supportedImageExt[strings.ToLower(sub)]
	if !ok {
		return "", "", fmt.Errorf("admission: unsupported image type %q", mimeType)
	}
	return ext, body, nil
}
