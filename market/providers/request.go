package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// fetch performs a GET and returns the body. gbk bodies are transcoded to UTF-8.
func fetch(ctx context.Context, client *http.Client, provider, op, url, referer string, gbk bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError(KindBadResponse, provider, op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(KindTransient, provider, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := KindBadResponse
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = KindTransient
		}
		return nil, newError(kind, provider, op, fmt.Errorf("status %d", resp.StatusCode))
	}

	var r io.Reader = resp.Body
	if gbk {
		r = transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder())
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, newError(KindTransient, provider, op, err)
	}
	return body, nil
}
