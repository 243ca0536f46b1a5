package validatorinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	mainPageTimeout = 30 * time.Second
	chainTimeout    = 45 * time.Second
	linkTimeout     = 15 * time.Second
)

// Chrome drives a local headless Chrome through chromedp.
type Chrome struct {
	logger *slog.Logger
	opts   []chromedp.ExecAllocatorOption
}

func NewChrome(logger *slog.Logger) *Chrome {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-crash-reporter", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("crash-dumps-dir", "/tmp"),
		chromedp.WindowSize(1920, 1080),
	)
	return &Chrome{logger: logger, opts: opts}
}

// Open starts a browser tied to ctx; the returned func shuts it down.
func (c *Chrome) Open(ctx context.Context) (Page, func(), error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	closeFn := func() {
		tabCancel()
		allocCancel()
	}

	// Start the browser on the long-lived context so per-page timeouts
	// below do not tear it down.
	if err := chromedp.Run(tabCtx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("start chrome: %w", err)
	}
	return &chromePage{ctx: tabCtx, logger: c.logger}, closeFn, nil
}

type chromePage struct {
	ctx    context.Context
	logger *slog.Logger
}

func (p *chromePage) MainPage(url string) (string, error) {
	ctx, cancel := context.WithTimeout(p.ctx, mainPageTimeout)
	defer cancel()

	var body string
	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.InnerHTML("body", &body, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("chromedp main page: %w", err)
	}
	return body, nil
}

func (p *chromePage) ChainRows(url string) ([]ScrapedRow, error) {
	ctx, cancel := context.WithTimeout(p.ctx, chainTimeout)
	defer cancel()

	var resultJSON string
	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(`.el-DataListRow`, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(extractRowsJS, &resultJSON),
	); err != nil {
		return nil, fmt.Errorf("chromedp chain page: %w", err)
	}

	var rows []ScrapedRow
	if err := json.Unmarshal([]byte(resultJSON), &rows); err != nil {
		return nil, fmt.Errorf("parse chain rows: %w", err)
	}
	p.logger.Debug("chain page rows", "url", url, "rows", len(rows))
	return rows, nil
}

func (p *chromePage) ExternalLink(url string) (string, error) {
	ctx, cancel := context.WithTimeout(p.ctx, linkTimeout)
	defer cancel()

	var (
		href string
		ok   bool
	)
	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady(`.el-BlockchainAgentExternalLink`, chromedp.ByQuery),
		chromedp.AttributeValue(`.el-BlockchainAgentExternalLink`, "href", &href, &ok, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("chromedp validator page: %w", err)
	}
	if !ok {
		return "", nil
	}
	return href, nil
}

// extractRowsJS is evaluated in the browser to read every validator row.
const extractRowsJS = `
(() => {
	const text = el => el ? (el.innerText || el.textContent || '').trim() : '';
	const rows = document.querySelectorAll('.el-DataListRow');
	const data = [];
	rows.forEach(row => {
		const cells = Array.from(row.querySelectorAll('.el-DataListRowCell')).map(text);
		const a = row.querySelector('a');
		const img = row.querySelector('img');
		data.push({
			cells: cells,
			name: text(row.querySelector('.el-NameText')),
			link: a ? a.href : '',
			image: img ? img.src : '',
		});
	});
	return JSON.stringify(data);
})()
`
