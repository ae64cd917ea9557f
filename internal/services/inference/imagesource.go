package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cozy-creator/captioner/internal/utils/pathutil"
)

type SourceKind int

const (
	SourceDataURI SourceKind = iota
	SourceURL
	SourceBase64
	SourceFilePath
)

func (k SourceKind) String() string {
	switch k {
	case SourceDataURI:
		return "data_uri"
	case SourceURL:
		return "url"
	case SourceBase64:
		return "base64"
	case SourceFilePath:
		return "file_path"
	default:
		return "unknown"
	}
}

// Strings this short are never taken for bare base64 payloads.
const minBase64Length = 100

var (
	ErrMalformedDataURI  = errors.New("malformed data URI")
	ErrFilePathsDisabled = errors.New("file path images are disabled")
	ErrImageTooLarge     = errors.New("image exceeds size limit")
)

// ImageSource is a classified image field. decoded holds the bytes already
// produced while classifying base64 payloads.
type ImageSource struct {
	Kind    SourceKind
	Value   string
	decoded []byte
}

// ClassifyImage decides how an image string is encoded. Data URIs are checked
// first, then URLs, then bare base64 longer than 100 characters; anything else
// is a file path.
func ClassifyImage(value string) ImageSource {
	if strings.HasPrefix(value, "data:image") {
		return ImageSource{Kind: SourceDataURI, Value: value}
	}

	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return ImageSource{Kind: SourceURL, Value: value}
	}

	if len(value) > minBase64Length {
		if data, err := decodeBase64(value); err == nil {
			return ImageSource{Kind: SourceBase64, Value: value, decoded: data}
		}
	}

	return ImageSource{Kind: SourceFilePath, Value: value}
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if data, err := base64.StdEncoding.DecodeString(value); err == nil {
		return data, nil
	}

	return base64.RawStdEncoding.DecodeString(value)
}

type ImageLoader struct {
	httpClient     *http.Client
	maxBytes       int64
	allowFilePaths bool
}

func NewImageLoader(fetchTimeout time.Duration, maxBytes int64, allowFilePaths bool) *ImageLoader {
	return &ImageLoader{
		httpClient:     &http.Client{Timeout: fetchTimeout},
		maxBytes:       maxBytes,
		allowFilePaths: allowFilePaths,
	}
}

// Load returns the raw encoded image bytes behind a source.
func (l *ImageLoader) Load(ctx context.Context, src ImageSource) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch src.Kind {
	case SourceDataURI:
		_, payload, ok := strings.Cut(src.Value, ",")
		if !ok {
			return nil, ErrMalformedDataURI
		}
		data, err = decodeBase64(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode data URI: %w", err)
		}
	case SourceURL:
		data, err = l.fetch(ctx, src.Value)
	case SourceBase64:
		data = src.decoded
		if data == nil {
			data, err = decodeBase64(src.Value)
		}
	case SourceFilePath:
		data, err = l.readFile(src.Value)
	default:
		return nil, fmt.Errorf("unknown image source %d", src.Kind)
	}
	if err != nil {
		return nil, err
	}

	if l.maxBytes > 0 && int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(data))
	}

	return data, nil
}

func (l *ImageLoader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to download image (status %d)", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if l.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, l.maxBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	return data, nil
}

func (l *ImageLoader) readFile(path string) ([]byte, error) {
	if !l.allowFilePaths {
		return nil, ErrFilePathsDisabled
	}

	path, err := pathutil.ExpandPath(path)
	if err != nil {
		return nil, err
	}

	if l.maxBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		if info.Size() > l.maxBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, info.Size())
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	return data, nil
}
