package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

type Hook struct {
	URL            string
	Secret         string
	Kinds          []string
	TimeoutSeconds int
	Enabled        *bool
}

// Webhook posts each intent once to every enabled hook. There is no retry:
// a failed post is reported to the caller and dropped.
type Webhook struct {
	Hooks  []Hook
	Client *http.Client
}

func (w Webhook) NotifyStageTransition(ctx context.Context, n StageTransition) error {
	return w.post(ctx, transitionIntent(n))
}

func (w Webhook) NotifyClosure(ctx context.Context, n Closure) error {
	return w.post(ctx, closureIntent(n))
}

func (w Webhook) post(ctx context.Context, intent Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	var errs []error
	for _, hook := range w.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !newKindFilter(hook.Kinds).match(intent.Kind) {
			continue
		}
		if err := w.deliver(ctx, hook, intent, data); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (w Webhook) deliver(ctx context.Context, hook Hook, intent Intent, data []byte) error {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Consentline-Event", intent.Kind)
	req.Header.Set("X-Consentline-Decision", intent.DecisionID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Consentline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type kindFilter struct {
	all bool
	set map[string]struct{}
}

func newKindFilter(kinds []string) kindFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			set[k] = struct{}{}
		}
	}
	if len(set) == 0 {
		return kindFilter{all: true}
	}
	return kindFilter{set: set}
}

func (f kindFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
