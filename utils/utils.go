package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/forPelevin/gomoji"
	"github.com/mitchellh/mapstructure"
	"github.com/valyala/bytebufferpool"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const MaxFilenameLength = 200

func MapToStruct(mapVal map[string]interface{}, structVal interface{}) error {
	config := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           structVal,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	return decoder.Decode(mapVal)
}

// HttpStatusError is returned for any response outside 200/206.
type HttpStatusError struct {
	StatusCode int
	Url        string
}

func (e *HttpStatusError) Error() string {
	return fmt.Sprintf("HttpGet status error %d for %s", e.StatusCode, e.Url)
}

var bodyPool bytebufferpool.Pool

// HttpDoEx performs one request and returns a private copy of the body.
func HttpDoEx(ctx context.Context, client *http.Client, meth string, url string, header map[string]string, data []byte) ([]byte, error) {
	if client == nil {
		client = &http.Client{}
	}
	var dataReader io.Reader
	if data != nil {
		dataReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, meth, url, dataReader)
	if err != nil {
		return nil, fmt.Errorf("HttpGet bad request %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HttpGet error %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil, &HttpStatusError{StatusCode: res.StatusCode, Url: url}
	}

	buf := bodyPool.Get()
	defer bodyPool.Put(buf)
	n, err := buf.ReadFrom(res.Body)
	if err != nil {
		return nil, fmt.Errorf("HttpGet read body %w", err)
	}
	if res.ContentLength >= 0 && n != res.ContentLength {
		return nil, fmt.Errorf("Got unexpected payload: expected: %v, got %v", res.ContentLength, n)
	}
	ret := make([]byte, buf.Len())
	copy(ret, buf.B)
	return ret, nil
}

func HttpGet(ctx context.Context, client *http.Client, url string, header map[string]string) ([]byte, error) {
	return HttpDoEx(ctx, client, http.MethodGet, url, header, nil)
}

func HttpPut(ctx context.Context, client *http.Client, url string, header map[string]string, data []byte) ([]byte, error) {
	return HttpDoEx(ctx, client, http.MethodPut, url, header, data)
}

func IsFileExist(aFilepath string) bool {
	_, err := os.Stat(aFilepath)
	return err == nil
}

// FileSize returns 0 when the file doesn't exist.
func FileSize(aFilepath string) int64 {
	st, err := os.Stat(aFilepath)
	if err != nil {
		return 0
	}
	return st.Size()
}

func MakeDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dirPath, err)
	}
	return nil
}

var illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// RemoveIllegalChar makes a title usable as a file name on every platform.
func RemoveIllegalChar(title string, stripEmoji bool) string {
	if stripEmoji {
		title = gomoji.RemoveEmojis(title)
	}
	title = illegalChars.ReplaceAllString(title, "_")
	title = strings.Trim(title, " .")
	if utf8.RuneCountInString(title) > MaxFilenameLength {
		title = string([]rune(title)[:MaxFilenameLength])
	}
	return title
}

func RPartition(s string, sep string) (string, string, string) {
	parts := strings.SplitAfter(s, sep)
	if len(parts) == 1 {
		return "", "", parts[0]
	}
	return strings.Join(parts[0:len(parts)-1], ""), sep, parts[len(parts)-1]
}

