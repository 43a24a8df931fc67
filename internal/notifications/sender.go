package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// NewHTTPClient returns the client used for webhook POSTs. Every request is
// bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Deliver POSTs ev to sub once, without retry, and reports the outcome. It
// never touches storage; RecordDelivery persists the result.
func Deliver(ctx context.Context, client *http.Client, sub Subscription, ev Event) DeliveryResult {
	start := time.Now()
	res := DeliveryResult{SubscriptionID: sub.ID, Event: ev.Name, DeliveredAt: start}

	body, err := sonic.Marshal(ev)
	if err != nil {
		res.Status = "error: encode: " + err.Error()
		res.Duration = time.Since(start)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		res.Status = "error: " + err.Error()
		res.Duration = time.Since(start)
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "scoracle-pipeline/webhooks")
	req.Header.Set(eventHeader, ev.Name)
	if sub.Secret != "" {
		req.Header.Set(signatureHeader, "sha256="+Sign(sub.Secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		res.Status = "error: " + err.Error()
		res.Duration = time.Since(start)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	if res.OK {
		res.Status = "ok"
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	} else {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
		res.Status = fmt.Sprintf("http %d", resp.StatusCode)
		if len(bytes.TrimSpace(snippet)) > 0 {
			res.Status += ": " + string(bytes.TrimSpace(snippet))
		}
	}
	res.Duration = time.Since(start)
	return res
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
