// Package chrome implements page.Page on a Chrome tab driven over the DevTools protocol.
package chrome

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/page"
	"github.com/spigell/autoapply/internal/utils"
)

//go:embed helper.js
var helperJS string

const (
	defaultNavigateRetries = 3
	defaultNavigateTimeout = 30 * time.Second
	defaultUploadTimeout   = 15 * time.Second
	retryBackoff           = 2 * time.Second
)

// Config selects and tunes the browser.
type Config struct {
	Headless    bool   `mapstructure:"headless"`
	UserDataDir string `mapstructure:"user-data-dir"`
	ExecPath    string `mapstructure:"exec-path"`
	// RemoteURL attaches to an already running browser's DevTools websocket instead of launching one.
	RemoteURL       string        `mapstructure:"remote-url"`
	NavigateRetries int           `mapstructure:"navigate-retries"`
	NavigateTimeout time.Duration `mapstructure:"navigate-timeout"`
}

// Tab is one browser tab. It is not safe for concurrent use, matching the
// single driving goroutine of a run.
type Tab struct {
	ctx     context.Context
	cancels []context.CancelFunc
	cfg     Config
	logger  *zap.Logger
}

var _ page.Page = (*Tab)(nil)

// Open starts (or attaches to) a browser and opens a tab with the helper script installed.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Tab, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigateRetries <= 0 {
		cfg.NavigateRetries = defaultNavigateRetries
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = defaultNavigateTimeout
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(1366, 900),
		)
		if cfg.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
		}
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	tab := &Tab{
		ctx:     tabCtx,
		cancels: []context.CancelFunc{tabCancel, allocCancel},
		cfg:     cfg,
		logger:  logger,
	}

	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := cdppage.AddScriptToEvaluateOnNewDocument(helperJS).Do(ctx)
		return err
	}))
	if err != nil {
		tab.Close()
		return nil, fmt.Errorf("install page helper: %w", err)
	}

	return tab, nil
}

// Close shuts the tab and, when launched by Open, the browser.
func (t *Tab) Close() {
	for _, cancel := range t.cancels {
		cancel()
	}
}

// run executes actions on the tab while honouring cancellation of the caller's ctx.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (t *Tab) eval(ctx context.Context, call string, out any, args ...any) error {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("encode %s argument: %w", call, err)
		}
		encoded = append(encoded, string(data))
	}

	expr := fmt.Sprintf("%s;\nwindow.__autoapply.%s(%s)", helperJS, call, strings.Join(encoded, ", "))
	if err := t.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("%s: %w", call, err)
	}
	return nil
}

func (t *Tab) evalBool(ctx context.Context, call string, args ...any) error {
	var ok bool
	if err := t.eval(ctx, call, &ok, args...); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %v: %w", call, args, page.ErrNotFound)
	}
	return nil
}

// Navigate loads url, retrying a small fixed number of times.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	var lastErr error
	for attempt := 1; attempt <= t.cfg.NavigateRetries; attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, t.cfg.NavigateTimeout)
		lastErr = t.run(navCtx, chromedp.Navigate(url))
		cancel()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}

		t.logger.Warn("navigation failed",
			zap.String("url", utils.TruncateForLog(url, 200)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if err := utils.WaitFor(ctx, retryBackoff*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("navigate to %s: %w", url, lastErr)
}

func (t *Tab) URL(ctx context.Context) (string, error) {
	var location string
	if err := t.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

func (t *Tab) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := t.eval(ctx, "exists", &ok, selector)
	return ok, err
}

func (t *Tab) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	err := t.eval(ctx, "texts", &texts, selector)
	return texts, err
}

func (t *Tab) Extract(ctx context.Context, spec page.ExtractSpec) ([]map[string]string, error) {
	var items []map[string]string
	err := t.eval(ctx, "extract", &items, spec)
	return items, err
}

func (t *Tab) Fields(ctx context.Context, scope string) ([]page.Field, error) {
	var fields []page.Field
	err := t.eval(ctx, "fields", &fields, scope)
	return fields, err
}

func (t *Tab) Buttons(ctx context.Context, scope string) ([]page.Button, error) {
	var buttons []page.Button
	err := t.eval(ctx, "buttons", &buttons, scope)
	return buttons, err
}

func (t *Tab) Click(ctx context.Context, id string) error {
	return t.evalBool(ctx, "click", id)
}

func (t *Tab) ClickSelector(ctx context.Context, selector string) error {
	return t.evalBool(ctx, "clickSelector", selector)
}

func (t *Tab) SetValue(ctx context.Context, id, value string) error {
	return t.evalBool(ctx, "setValue", id, value)
}

func (t *Tab) SelectOption(ctx context.Context, id, value string) error {
	return t.evalBool(ctx, "selectOption", id, value)
}

func (t *Tab) SetChecked(ctx context.Context, id string, checked bool) error {
	return t.evalBool(ctx, "setChecked", id, checked)
}

func (t *Tab) UploadFile(ctx context.Context, id, path string) error {
	uploadCtx, cancel := context.WithTimeout(ctx, defaultUploadTimeout)
	defer cancel()

	selector := fmt.Sprintf(`[data-autoapply-id=%q]`, id)
	if err := t.run(uploadCtx, chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

func (t *Tab) CloseDialogs(ctx context.Context) error {
	var closed int
	if err := t.eval(ctx, "closeDialogs", &closed); err != nil {
		return err
	}
	if closed > 0 {
		t.logger.Debug("closed dialogs", zap.Int("count", closed))
	}
	return nil
}
